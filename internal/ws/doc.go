// Package ws attaches live terminal displays to sessions.
//
// Each attachment consumes one split copy of the session's output
// stream, so the display and the programmatic capture progress
// independently. Output flows as binary frames of raw terminal bytes;
// input frames are either raw keystrokes (binary) or small JSON
// control messages (resize, ping).
package ws
