// Package sanitize turns raw terminal bytes into clean, readable text.
//
// Terminal output interleaves ANSI escape sequences, carriage returns,
// and run-together fragments with the text a caller actually wants.
// Clean applies an ordered pipeline of pure transforms; each stage is
// independently testable and the whole pipeline is idempotent. The
// pipeline only removes bytes or inserts line feeds at known semantic
// breakpoints; it never fabricates content and never reorders lines.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	// Operating-system-command sequences, including the lifecycle
	// markers, terminated by BEL or ST.
	oscSeq = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)

	// CSI sequences: cursor movement, colors, erase, modes.
	csiSeq = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

	// Remaining two-byte escapes and stray introducers.
	bareEsc = regexp.MustCompile(`\x1b[@-_]?`)

	crlf      = regexp.MustCompile(`\r\n?`)
	blankRuns = regexp.MustCompile(`\n{3,}`)

	// Shell prompt glyphs the stream tends to run into the preceding
	// output.
	promptGlyph = regexp.MustCompile(`([^\n])([❯➜](?: |$))`)

	// Continuation and status markers emitted by build tools.
	statusGlyph = regexp.MustCompile(`([^\n])([✓✔✗✘] )`)

	// Error and warning banners, unless preceded by a path-like
	// character (so /var/log/error.log stays intact).
	errKeyword = regexp.MustCompile(`([^\n/\\.\w-])((?:ERROR|WARNING|Error:|Warning:|error:|warning:))`)

	npmErr = regexp.MustCompile(`([^\n])(npm ERR!)`)

	spaceRuns = regexp.MustCompile(`[ \t]{2,}`)
)

// Clean runs the full pipeline over raw terminal output.
func Clean(raw string) string {
	s := stripSequences(raw)
	s = normalizeNewlines(s)
	s = reflow(s)
	return tidyLines(s)
}

// stripSequences removes OSC, CSI, and bare escape sequences.
func stripSequences(s string) string {
	s = oscSeq.ReplaceAllString(s, "")
	s = csiSeq.ReplaceAllString(s, "")
	s = bareEsc.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}

// normalizeNewlines folds CRLF and lone CR to LF and collapses runs of
// blank lines.
func normalizeNewlines(s string) string {
	s = crlf.ReplaceAllString(s, "\n")
	return blankRuns.ReplaceAllString(s, "\n\n")
}

// reflow reintroduces line breaks at breakpoints the raw stream runs
// together.
func reflow(s string) string {
	s = promptGlyph.ReplaceAllString(s, "$1\n$2")
	s = statusGlyph.ReplaceAllString(s, "$1\n$2")
	s = errKeyword.ReplaceAllString(s, "$1\n$2")
	s = npmErr.ReplaceAllString(s, "$1\n$2")
	s = breakTraceFrames(s)
	return s
}

// breakTraceFrames splits " at fn (file:1:2)" frames onto their own
// lines. "at async" frames stay joined, as does prose "at" that does
// not look like a frame (no ":" or "(" before the next frame).
func breakTraceFrames(s string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, " at ")
		if i == -1 {
			b.WriteString(s)
			return b.String()
		}

		frame := s[i+1:]
		if j := strings.IndexByte(frame, '\n'); j >= 0 {
			frame = frame[:j]
		}
		if j := strings.Index(frame[3:], " at "); j >= 0 {
			frame = frame[:3+j]
		}

		if strings.HasPrefix(frame, "at async") || !strings.ContainsAny(frame, ":(") {
			b.WriteString(s[:i+4])
			s = s[i+4:]
			continue
		}

		b.WriteString(s[:i])
		b.WriteByte('\n')
		s = s[i+1:]
	}
}

// tidyLines trims each line, drops empties, and collapses whitespace
// runs. A run collapses to its own first byte, so a tab-only run stays
// a tab; substituting a space there would introduce a byte absent from
// the input.
func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = spaceRuns.ReplaceAllStringFunc(line, func(run string) string {
			return run[:1]
		})
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
