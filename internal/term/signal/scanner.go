// Package signal decodes out-of-band lifecycle markers embedded in
// terminal output.
//
// The shell integration emits OSC 654 sequences on the same stream as
// normal output: ESC ] 654 ; name [= value] BEL. The scanner extracts
// these markers, reports them as typed signals, and passes the
// surrounding bytes through with the marker bytes removed. Markers are
// not chunk-aligned: a sequence may span any number of reads, so the
// scanner keeps an internal reassembly buffer.
package signal

import (
	"bytes"
	"strconv"
	"strings"
)

// Kind identifies a lifecycle signal.
type Kind int

const (
	// KindInteractive means the shell is ready to receive input.
	KindInteractive Kind = iota
	// KindPrompt means the shell returned to its prompt.
	KindPrompt
	// KindExit means a command finished with an exit code.
	KindExit
)

// String returns the wire name of the signal kind.
func (k Kind) String() string {
	switch k {
	case KindInteractive:
		return "interactive"
	case KindPrompt:
		return "prompt"
	case KindExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Signal is one decoded marker.
type Signal struct {
	Kind     Kind
	ExitCode int // meaningful only when Kind == KindExit
}

// Event is one item of the decoded stream, in original byte order:
// either a run of passthrough bytes or a signal, never both. Keeping
// the interleaving lets a consumer attribute bytes before an exit
// marker to the finished command and bytes after it to the next one.
type Event struct {
	Data   []byte
	Signal *Signal
}

const (
	introducer = "\x1b]654;"
	terminator = '\x07'

	// A marker longer than this is treated as garbage and flushed as
	// plain output instead of stalling the stream waiting for BEL.
	maxMarkerLen = 256
)

// Scanner reassembles markers across chunk boundaries.
//
// Scan returns the chunk's events in stream order. A trailing
// incomplete marker is held back until a later chunk completes it;
// Flush releases whatever is still held when the stream ends.
type Scanner struct {
	buf []byte
}

// NewScanner creates an empty scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan consumes one chunk and returns the events completed by it.
func (s *Scanner) Scan(chunk []byte) []Event {
	s.buf = append(s.buf, chunk...)

	var events []Event

	for {
		start := bytes.Index(s.buf, []byte(introducer))
		if start == -1 {
			// No full introducer. Hold back a suffix that could be
			// the start of one, emit the rest.
			keep := partialIntroducer(s.buf)
			events = appendData(events, s.buf[:len(s.buf)-keep])
			s.buf = s.buf[len(s.buf)-keep:]
			return events
		}

		end := bytes.IndexByte(s.buf[start+len(introducer):], terminator)
		if end == -1 {
			if len(s.buf)-start > maxMarkerLen {
				// Unterminated for too long; not a real marker.
				// Release through the ESC byte and rescan the rest.
				events = appendData(events, s.buf[:start+1])
				s.buf = s.buf[start+1:]
				continue
			}
			// Marker incomplete; emit what precedes it and wait.
			events = appendData(events, s.buf[:start])
			s.buf = s.buf[start:]
			return events
		}

		body := string(s.buf[start+len(introducer) : start+len(introducer)+end])
		events = appendData(events, s.buf[:start])
		s.buf = s.buf[start+len(introducer)+end+1:]

		if sig, ok := decode(body); ok {
			events = append(events, Event{Signal: &sig})
		}
	}
}

// Flush returns any bytes still held back. Call once when the source
// stream closes.
func (s *Scanner) Flush() []byte {
	rest := s.buf
	s.buf = nil
	return rest
}

// appendData adds a data event, copying out of the scanner's internal
// buffer. Empty runs are dropped.
func appendData(events []Event, data []byte) []Event {
	if len(data) == 0 {
		return events
	}
	return append(events, Event{Data: append([]byte(nil), data...)})
}

// decode parses a marker body ("interactive", "prompt",
// "exit=<code>[:<sequence>]"). Unrecognized bodies are ignored.
func decode(body string) (Signal, bool) {
	name, value := body, ""
	if i := strings.IndexByte(body, '='); i >= 0 {
		name, value = body[:i], body[i+1:]
	}

	switch name {
	case "interactive":
		return Signal{Kind: KindInteractive}, true
	case "prompt":
		return Signal{Kind: KindPrompt}, true
	case "exit":
		// Payload is "code:sequence"; only the code matters here.
		if i := strings.IndexByte(value, ':'); i >= 0 {
			value = value[:i]
		}
		code, err := strconv.Atoi(value)
		if err != nil {
			return Signal{}, false
		}
		return Signal{Kind: KindExit, ExitCode: code}, true
	default:
		return Signal{}, false
	}
}

// partialIntroducer returns the length of the longest strict suffix of
// buf that is a prefix of the introducer sequence.
func partialIntroducer(buf []byte) int {
	max := len(introducer) - 1
	if len(buf) < max {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if bytes.HasSuffix(buf, []byte(introducer[:n])) {
			return n
		}
	}
	return 0
}
