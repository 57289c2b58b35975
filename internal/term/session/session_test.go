package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/termhost/internal/term/host"
)

const (
	markerInteractive = "\x1b]654;interactive\x07"
	markerPrompt      = "\x1b]654;prompt\x07"
)

// scriptProcess is a fake host.Process driven by the test: writes to
// the input are recorded and handed to an onWrite hook, output is fed
// through a pipe.
type scriptProcess struct {
	mu      sync.Mutex
	writes  [][]byte
	onWrite func(p []byte)

	pr *io.PipeReader
	pw *io.PipeWriter

	resizes int
	closed  bool
}

func newScriptProcess() *scriptProcess {
	pr, pw := io.Pipe()
	return &scriptProcess{pr: pr, pw: pw}
}

func (p *scriptProcess) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	p.mu.Lock()
	p.writes = append(p.writes, cp)
	hook := p.onWrite
	p.mu.Unlock()
	if hook != nil {
		hook(cp)
	}
	return len(b), nil
}

func (p *scriptProcess) Input() io.Writer  { return p }
func (p *scriptProcess) Output() io.Reader { return p.pr }

func (p *scriptProcess) Resize(cols, rows int) error {
	p.mu.Lock()
	p.resizes++
	p.mu.Unlock()
	return nil
}

func (p *scriptProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.pw.Close()
	}
	return nil
}

// emit feeds bytes into the session's output stream.
func (p *scriptProcess) emit(s string) {
	p.pw.Write([]byte(s))
}

// recordedWrites returns a flat copy of everything written so far.
func (p *scriptProcess) recordedWrites() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

type scriptHost struct {
	proc     *scriptProcess
	spawnErr error
}

func (h *scriptHost) Spawn(command string, args []string, cols, rows int) (host.Process, error) {
	if h.spawnErr != nil {
		return nil, h.spawnErr
	}
	return h.proc, nil
}

// shellScript wires a scriptProcess to behave like a shell with the
// marker integration: every ^C produces an exit marker plus a prompt
// marker, and command lines run the provided handler.
func shellScript(proc *scriptProcess, onCommand func(cmd string)) {
	proc.onWrite = func(p []byte) {
		if bytes.Contains(p, []byte{0x03}) {
			go func() {
				proc.emit("\x1b]654;exit=130:9\x07")
				proc.emit(markerPrompt)
			}()
			return
		}
		if n := len(p); n > 0 && p[n-1] == '\n' && onCommand != nil {
			onCommand(strings.TrimSuffix(string(p), "\n"))
		}
	}
}

func startSession(t *testing.T, proc *scriptProcess, onCommand func(cmd string)) *Session {
	t.Helper()
	shellScript(proc, onCommand)

	sess := New(&scriptHost{proc: proc}, Options{Shell: "/bin/fake"}, nil)

	started := make(chan error, 1)
	go func() { started <- sess.Start(context.Background()) }()

	proc.emit(markerInteractive)

	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("start did not complete after interactive signal")
	}
	return sess
}

func TestStartBlocksUntilInteractive(t *testing.T) {
	proc := newScriptProcess()
	sess := New(&scriptHost{proc: proc}, Options{Shell: "/bin/fake"}, nil)

	started := make(chan error, 1)
	go func() { started <- sess.Start(context.Background()) }()

	select {
	case err := <-started:
		t.Fatalf("start returned before interactive signal: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	// Noise before the marker must not unblock startup.
	proc.emit("banner text\r\n")
	proc.emit(markerInteractive)

	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("start never completed")
	}

	if !sess.Ready() {
		t.Error("session should report ready")
	}
}

func TestStartFailsWhenSpawnFails(t *testing.T) {
	sess := New(&scriptHost{spawnErr: errors.New("no such shell")}, Options{Shell: "/bin/fake"}, nil)

	if err := sess.Start(context.Background()); err == nil {
		t.Fatal("expected spawn failure to surface")
	}
}

func TestStartFailsWhenStreamEndsFirst(t *testing.T) {
	proc := newScriptProcess()
	sess := New(&scriptHost{proc: proc}, Options{Shell: "/bin/fake"}, nil)

	started := make(chan error, 1)
	go func() { started <- sess.Start(context.Background()) }()

	proc.Close()

	select {
	case err := <-started:
		if err == nil {
			t.Fatal("expected an initialization error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("start never returned")
	}
}

func TestExecuteBeforeStartNotReady(t *testing.T) {
	proc := newScriptProcess()
	sess := New(&scriptHost{proc: proc}, Options{Shell: "/bin/fake"}, nil)

	if _, err := sess.Execute(context.Background(), "ls"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := sess.WriteInput([]byte("x")); !errors.Is(err, ErrNotReady) {
		t.Fatalf("keystrokes before ready should be rejected, got %v", err)
	}
}

func TestExecuteReturnsOutputAndExitCode(t *testing.T) {
	proc := newScriptProcess()
	sess := startSession(t, proc, func(cmd string) {
		if cmd == "ls -la" {
			proc.emit("total 0\ndrwxr-xr-x  2 user user 40 .\n")
			proc.emit("\x1b]654;exit=0:1\x07")
		}
	})
	defer sess.Close()

	res, err := sess.Execute(context.Background(), "ls -la")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Output, "total 0") || !strings.Contains(res.Output, "drwxr-xr-x") {
		t.Errorf("unexpected output %q", res.Output)
	}
}

func TestExecuteNonZeroExitCode(t *testing.T) {
	proc := newScriptProcess()
	sess := startSession(t, proc, func(cmd string) {
		proc.emit("no such file\n")
		proc.emit("\x1b]654;exit=2:3\x07")
	})
	defer sess.Close()

	res, err := sess.Execute(context.Background(), "cat missing")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ExitCode != 2 {
		t.Errorf("expected exit code 2, got %d", res.ExitCode)
	}
}

func TestExecuteMarkerSplitAcrossReads(t *testing.T) {
	payload := "output line\n\x1b]654;exit=7:1\x07"

	for _, size := range []int{1, 2, 5} {
		proc := newScriptProcess()
		sess := startSession(t, proc, func(cmd string) {
			go func() {
				for i := 0; i < len(payload); i += size {
					end := i + size
					if end > len(payload) {
						end = len(payload)
					}
					proc.emit(payload[i:end])
				}
			}()
		})

		res, err := sess.Execute(context.Background(), "run")
		if err != nil {
			t.Fatalf("chunk size %d: execute: %v", size, err)
		}
		if res.ExitCode != 7 {
			t.Errorf("chunk size %d: expected exit code 7, got %d", size, res.ExitCode)
		}
		if !strings.Contains(res.Output, "output line") {
			t.Errorf("chunk size %d: unexpected output %q", size, res.Output)
		}
		sess.Close()
	}
}

func TestExecuteSerialization(t *testing.T) {
	proc := newScriptProcess()
	release := make(chan struct{})
	sess := startSession(t, proc, func(cmd string) {
		if cmd == "slow" {
			// Never finishes on its own; only the interrupt ends it.
			return
		}
		if cmd == "fast" {
			close(release)
			proc.emit("done\n")
			proc.emit("\x1b]654;exit=0:2\x07")
		}
	})
	defer sess.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.Execute(context.Background(), "slow")
	}()

	// Make sure "slow" is in flight before issuing the next command.
	waitFor(t, func() bool { return sess.Active() })

	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := sess.Execute(context.Background(), "fast")
		if err != nil {
			t.Errorf("fast execute: %v", err)
		}
		if err == nil && res.ExitCode != 0 {
			t.Errorf("fast exit code: %d", res.ExitCode)
		}
	}()

	select {
	case <-release:
	case <-time.After(5 * time.Second):
		t.Fatal("second command never ran")
	}
	wg.Wait()

	// Write order must be: slow's command, interrupt byte(s), fast's
	// command.
	var slowIdx, intIdx, fastIdx = -1, -1, -1
	for i, w := range proc.recordedWrites() {
		switch {
		case string(w) == "slow\n":
			slowIdx = i
		case bytes.Contains(w, []byte{0x03}):
			if intIdx == -1 || (slowIdx != -1 && i > slowIdx && intIdx < slowIdx) {
				intIdx = i
			}
		case string(w) == "fast\n":
			fastIdx = i
		}
	}
	if slowIdx == -1 || intIdx == -1 || fastIdx == -1 {
		t.Fatalf("missing writes: slow=%d int=%d fast=%d", slowIdx, intIdx, fastIdx)
	}
	if !(slowIdx < intIdx && intIdx < fastIdx) {
		t.Errorf("write order violated: slow=%d interrupt=%d fast=%d", slowIdx, intIdx, fastIdx)
	}
}

func TestStreamClosureYieldsPartialResult(t *testing.T) {
	proc := newScriptProcess()
	sess := startSession(t, proc, func(cmd string) {
		proc.emit("partial out")
		proc.Close()
	})

	res, err := sess.Execute(context.Background(), "doomed")
	if err != nil {
		t.Fatalf("execute should resolve best-effort, got %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("closure without marker defaults to exit 0, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Output, "partial out") {
		t.Errorf("expected accumulated partial output, got %q", res.Output)
	}
}

func TestExecuteAfterCloseRejected(t *testing.T) {
	proc := newScriptProcess()
	sess := startSession(t, proc, nil)

	sess.Close()
	waitFor(t, func() bool { return sess.isClosed() })

	if _, err := sess.Execute(context.Background(), "ls"); err == nil {
		t.Fatal("expected an error on a closed session")
	}
}

func TestDisplayReaderSeesRawBytes(t *testing.T) {
	proc := newScriptProcess()
	sess := startSession(t, proc, nil)
	defer sess.Close()

	proc.emit("\x1b[31mcolored\x1b[0m")

	// The display copy carries everything, markers included.
	want := markerInteractive + "\x1b[31mcolored\x1b[0m"
	got := make([]byte, 0, len(want))
	buf := make([]byte, 64)
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < len(want) && time.Now().Before(deadline) {
		n, err := sess.DisplayReader().Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			break
		}
	}
	if string(got) != want {
		t.Errorf("display bytes = %q, want %q", got, want)
	}
}

func TestKeystrokeForwarding(t *testing.T) {
	proc := newScriptProcess()
	sess := startSession(t, proc, nil)
	defer sess.Close()

	if err := sess.WriteInput([]byte("y")); err != nil {
		t.Fatalf("forwarding: %v", err)
	}

	found := false
	for _, w := range proc.recordedWrites() {
		if string(w) == "y" {
			found = true
		}
	}
	if !found {
		t.Error("keystroke never reached the process input")
	}
}

func TestExecuteContextExpiry(t *testing.T) {
	proc := newScriptProcess()
	sess := startSession(t, proc, func(cmd string) {
		// Command never completes.
	})
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := sess.Execute(ctx, "hang"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline expiry, got %v", err)
	}

	// The session still considers the command active; the next
	// execute has to interrupt it.
	if !sess.Active() {
		t.Error("expired execute should leave the command active")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
