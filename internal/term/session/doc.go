// Package session owns interactive shell sessions and their execution
// protocol.
//
// A Session holds one spawned process, its input writer, and two
// split output readers: one for the live display, one for the
// programmatic capture. Command execution is request/response inferred
// from the continuous byte stream: the shell integration embeds OSC
// 654 lifecycle markers (interactive, prompt, exit=<code>) in its
// output, and the session's read loop turns those into state
// transitions.
//
// State machine:
//
//	Uninitialized → Starting → Interactive(idle) ⇄ Executing → Closed
//
// Execute performs an interrupt-and-prompt handshake before every
// command: deliver ^C, wait for the prompt marker, drain the previous
// result, then write the new command. That serializes all executions
// through a single writer and guarantees the command text never lands
// in a dirty input buffer, even when callers overlap.
//
// Interruption is cooperative (^C only, no kill) and there is no
// built-in timeout; callers bound latency with a context. If the
// stream closes before an exit marker, the pending result resolves
// with partial output and exit code 0; the host cannot tell a clean
// unmarked exit from a crash, so the ambiguity is surfaced rather
// than guessed away.
//
// The Manager is the registry: it creates sessions against a host,
// hands out ULID session IDs, and tears sessions down.
package session
