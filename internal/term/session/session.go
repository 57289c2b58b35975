package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/logging"
	"github.com/GriffinCanCode/termhost/internal/shared/id"
	"github.com/GriffinCanCode/termhost/internal/term/host"
	"github.com/GriffinCanCode/termhost/internal/term/sanitize"
	"github.com/GriffinCanCode/termhost/internal/term/signal"
	"github.com/GriffinCanCode/termhost/internal/term/stream"
)

var (
	// ErrNotReady means Execute or input forwarding was attempted
	// before the shell signaled it is interactive.
	ErrNotReady = errors.New("session not ready")
	// ErrClosed means the session's process stream has ended.
	ErrClosed = errors.New("session closed")
)

// interruptByte is ETX (^C), delivered to the foreground process by
// the line discipline. Interruption is cooperative: a process that
// traps it keeps running, and the next Execute blocks until it exits.
const interruptByte = 0x03

// ExecutionResult is the outcome of one executed command. It is
// immutable once produced.
//
// An ExitCode of 0 is ambiguous when the stream closed before the
// exit marker arrived: the host does not guarantee marker emission on
// abnormal termination, so partial output with code 0 is returned
// rather than guessing a different default.
type ExecutionResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// future resolves exactly once and can be awaited by any number of
// observers.
type future struct {
	done chan struct{}
	res  ExecutionResult
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// executionState tracks the in-flight command. It is replaced as a
// whole value, never partially mutated, so a concurrent reader can
// never observe a torn state.
type executionState struct {
	active  bool
	pending *future
}

// Options configures a session's spawned process.
type Options struct {
	Shell      string
	Args       []string
	WorkingDir string
	Cols       int
	Rows       int
	Env        map[string]string
}

// Session owns one interactive shell: the process handle, the input
// writer, the split output readers, and the current execution state.
// The input writer has exactly one owner; all writes go through the
// session.
type Session struct {
	ID        id.SessionID
	Shell     string
	Cols      int
	Rows      int
	StartedAt time.Time

	log     *logging.Logger
	metrics *monitoring.Metrics
	host    host.Host
	opts    Options

	proc    host.Process
	display *stream.Reader

	ready chan struct{} // closed when the interactive signal arrives
	done  chan struct{} // closed when the capture stream ends

	readyOnce sync.Once
	doneOnce  sync.Once

	// execMu serializes the Execute handshake (interrupt, prompt
	// wait, command write). It is released before awaiting the
	// result so a later Execute can interrupt a running command.
	execMu sync.Mutex

	writeMu sync.Mutex // guards the input writer

	stateMu sync.Mutex
	state   executionState
	closed  bool

	// Collector state, owned by the read loop.
	colMu         sync.Mutex
	acc           *capture
	promptWaiters []chan struct{}
}

// capture accumulates one command's raw output until its exit marker.
type capture struct {
	buf bytes.Buffer
	fut *future
}

// New creates a session; Start spawns the process.
func New(h host.Host, opts Options, log *logging.Logger) *Session {
	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}

	sessionID := id.NewSessionID()
	return &Session{
		ID:    sessionID,
		Shell: opts.Shell,
		Cols:  opts.Cols,
		Rows:  opts.Rows,
		log:   log,
		host:  h,
		opts:  opts,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start spawns the process and blocks until the shell signals it is
// interactive. No input may be sent before that signal: the shell may
// not be reading stdin yet.
func (s *Session) Start(ctx context.Context) error {
	proc, err := s.host.Spawn(s.opts.Shell, s.opts.Args, s.opts.Cols, s.opts.Rows)
	if err != nil {
		return fmt.Errorf("session init: %w", err)
	}

	s.proc = proc
	s.StartedAt = time.Now()

	split := stream.NewSplitter(proc.Output(), 2)
	readers := split.Readers()
	s.display = readers[0]
	go s.readLoop(readers[1])

	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return fmt.Errorf("session init: %w: stream ended before interactive signal", ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs one command and returns its sanitized output and exit
// code. Calls serialize: a new Execute first interrupts any active
// command and waits for the shell to return to its prompt, so the new
// command text is never written into a dirty input buffer. There is
// no built-in timeout; bound latency with ctx and treat expiry as
// "result unknown".
func (s *Session) Execute(ctx context.Context, command string) (ExecutionResult, error) {
	select {
	case <-s.ready:
	default:
		return ExecutionResult{}, ErrNotReady
	}
	if s.isClosed() {
		return ExecutionResult{}, ErrClosed
	}

	s.execMu.Lock()

	s.stateMu.Lock()
	prev := s.state
	s.stateMu.Unlock()

	// Interrupt whatever is running, then wait for the prompt. The
	// handshake is mandatory even for the first command: it absorbs
	// startup banner noise and guarantees a known shell state.
	if prev.active {
		if err := s.writeByte(interruptByte); err != nil {
			s.execMu.Unlock()
			return ExecutionResult{}, err
		}
	}

	waiter := s.addPromptWaiter()
	if err := s.writeByte(interruptByte); err != nil {
		s.execMu.Unlock()
		return ExecutionResult{}, err
	}

	select {
	case <-waiter:
	case <-s.done:
		s.execMu.Unlock()
		return ExecutionResult{}, ErrClosed
	case <-ctx.Done():
		s.execMu.Unlock()
		return ExecutionResult{}, ctx.Err()
	}

	// Drain the previous result if its caller never collected it.
	// Once the prompt has been seen this resolves promptly.
	if prev.pending != nil {
		select {
		case <-prev.pending.done:
		case <-s.done:
		case <-ctx.Done():
			s.execMu.Unlock()
			return ExecutionResult{}, ctx.Err()
		}
	}

	// Register the capture before writing the command so the echo of
	// the first bytes cannot be missed.
	fut := newFuture()
	s.beginCapture(fut)

	if err := s.write([]byte(command + "\n")); err != nil {
		s.abortCapture(fut)
		s.execMu.Unlock()
		return ExecutionResult{}, err
	}

	s.stateMu.Lock()
	s.state = executionState{active: true, pending: fut}
	s.stateMu.Unlock()

	s.execMu.Unlock()

	select {
	case <-fut.done:
	case <-ctx.Done():
		// The command may still finish; the state stays active so
		// the next Execute interrupts it.
		return ExecutionResult{}, ctx.Err()
	}

	s.stateMu.Lock()
	if s.state.pending == fut {
		s.state = executionState{}
	}
	s.stateMu.Unlock()

	return fut.res, nil
}

// Interrupt delivers the interrupt byte to the foreground process.
// It does not kill the process and does not wait.
func (s *Session) Interrupt() error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.writeByte(interruptByte)
}

// WriteInput forwards raw keystrokes from the display. Keystrokes
// flow whenever the session is interactive, including while a command
// runs; only Execute's own writes are gated by the state machine.
func (s *Session) WriteInput(p []byte) error {
	select {
	case <-s.ready:
	default:
		return ErrNotReady
	}
	if s.isClosed() {
		return ErrClosed
	}
	return s.write(p)
}

// DisplayReader returns the output copy reserved for the live
// display. It carries every raw byte, markers included.
func (s *Session) DisplayReader() *stream.Reader {
	return s.display
}

// Resize changes the terminal dimensions.
func (s *Session) Resize(cols, rows int) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.proc.Resize(cols, rows); err != nil {
		return err
	}
	s.stateMu.Lock()
	s.Cols = cols
	s.Rows = rows
	s.stateMu.Unlock()
	return nil
}

// Active reports whether a command is currently executing.
func (s *Session) Active() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state.active
}

// Ready reports whether the interactive signal has been observed.
func (s *Session) Ready() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Close terminates the process and releases the terminal. Pending
// results resolve with partial output when the stream ends.
func (s *Session) Close() error {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return nil
	}
	s.closed = true
	s.stateMu.Unlock()

	if s.proc != nil {
		return s.proc.Close()
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.closed
}

func (s *Session) write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.proc.Input().Write(p)
	return err
}

func (s *Session) writeByte(b byte) error {
	return s.write([]byte{b})
}

// readLoop owns the capture reader: it feeds chunks through the
// marker scanner and dispatches the resulting events. All lifecycle
// transitions originate here, in stream order.
func (s *Session) readLoop(capture *stream.Reader) {
	sc := signal.NewScanner()
	buf := make([]byte, 4096)
	for {
		n, err := capture.Read(buf)
		if n > 0 {
			s.dispatch(sc.Scan(buf[:n]))
		}
		if err != nil {
			if rest := sc.Flush(); len(rest) > 0 {
				s.dispatch([]signal.Event{{Data: rest}})
			}
			s.finishOnClose(err)
			return
		}
	}
}

func (s *Session) dispatch(events []signal.Event) {
	s.colMu.Lock()
	defer s.colMu.Unlock()

	for _, ev := range events {
		if ev.Signal == nil {
			if s.acc != nil {
				s.acc.buf.Write(ev.Data)
			}
			continue
		}

		s.metrics.RecordSignal(ev.Signal.Kind.String())
		switch ev.Signal.Kind {
		case signal.KindInteractive:
			s.readyOnce.Do(func() { close(s.ready) })
		case signal.KindPrompt:
			for _, ch := range s.promptWaiters {
				close(ch)
			}
			s.promptWaiters = nil
		case signal.KindExit:
			if s.acc != nil {
				acc := s.acc
				s.acc = nil
				s.resolve(acc, ev.Signal.ExitCode)
			}
		}
	}
}

// finishOnClose resolves any pending capture with whatever arrived
// before the stream ended. The exit code defaults to 0: the caller
// cannot distinguish a clean exit without a marker from an unexpected
// stream closure, and that ambiguity is deliberate.
func (s *Session) finishOnClose(err error) {
	s.colMu.Lock()
	acc := s.acc
	s.acc = nil
	s.promptWaiters = nil
	s.colMu.Unlock()

	if acc != nil {
		if s.log != nil {
			s.log.Warn("stream closed before exit marker; returning partial output",
				zap.String("session_id", s.ID.String()))
		}
		s.resolve(acc, 0)
	}

	if err != nil && err != io.EOF && s.log != nil {
		s.log.Warn("capture stream ended",
			zap.String("session_id", s.ID.String()),
			zap.Error(err))
	}

	s.stateMu.Lock()
	s.closed = true
	s.stateMu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
}

// resolve sanitizes the raw capture and completes its future. A
// sanitizer failure degrades to the raw output instead of failing the
// command.
func (s *Session) resolve(acc *capture, exitCode int) {
	raw := acc.buf.String()
	acc.fut.res = ExecutionResult{Output: s.sanitizeOutput(raw), ExitCode: exitCode}
	close(acc.fut.done)
}

func (s *Session) sanitizeOutput(raw string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.Warn("output sanitizer failed; returning raw output",
					zap.String("session_id", s.ID.String()),
					zap.Any("panic", r))
			}
			out = raw
		}
	}()
	return sanitize.Clean(raw)
}

func (s *Session) addPromptWaiter() chan struct{} {
	ch := make(chan struct{})
	s.colMu.Lock()
	s.promptWaiters = append(s.promptWaiters, ch)
	s.colMu.Unlock()
	return ch
}

func (s *Session) beginCapture(fut *future) {
	s.colMu.Lock()
	s.acc = &capture{fut: fut}
	s.colMu.Unlock()
}

func (s *Session) abortCapture(fut *future) {
	s.colMu.Lock()
	if s.acc != nil && s.acc.fut == fut {
		s.acc = nil
	}
	s.colMu.Unlock()
}
