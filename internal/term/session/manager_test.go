package session

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestManager(proc *scriptProcess) *Manager {
	shellScript(proc, func(cmd string) {
		proc.emit("ran " + cmd + "\n")
		proc.emit("\x1b]654;exit=0:1\x07")
	})
	return NewManager(&scriptHost{proc: proc}, nil)
}

func createReady(t *testing.T, m *Manager, proc *scriptProcess) *Session {
	t.Helper()
	done := make(chan *Session, 1)
	errs := make(chan error, 1)
	go func() {
		sess, err := m.Create(context.Background(), Options{Shell: "/bin/fake"})
		if err != nil {
			errs <- err
			return
		}
		done <- sess
	}()
	proc.emit(markerInteractive)

	select {
	case sess := <-done:
		return sess
	case err := <-errs:
		t.Fatalf("create: %v", err)
		return nil
	}
}

func TestManagerCreateAndGet(t *testing.T) {
	proc := newScriptProcess()
	m := newTestManager(proc)

	sess := createReady(t, m, proc)
	defer m.CloseAll()

	if !strings.HasPrefix(sess.ID.String(), "sess_") {
		t.Errorf("session ID should be prefixed, got %s", sess.ID)
	}

	got, err := m.Get(sess.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != sess {
		t.Error("get returned a different session")
	}
}

func TestManagerGetUnknown(t *testing.T) {
	m := NewManager(&scriptHost{proc: newScriptProcess()}, nil)

	if _, err := m.Get("sess_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManagerExecute(t *testing.T) {
	proc := newScriptProcess()
	m := newTestManager(proc)
	sess := createReady(t, m, proc)
	defer m.CloseAll()

	res, err := m.Execute(context.Background(), sess.ID.String(), "whoami")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(res.Output, "ran whoami") {
		t.Errorf("unexpected output %q", res.Output)
	}
}

func TestManagerListAndClose(t *testing.T) {
	proc := newScriptProcess()
	m := newTestManager(proc)
	sess := createReady(t, m, proc)

	infos := m.List()
	if len(infos) != 1 || infos[0].ID != sess.ID.String() {
		t.Fatalf("list = %+v", infos)
	}
	if !infos[0].Ready {
		t.Error("session should report ready")
	}

	if err := m.Close(sess.ID.String()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("expected empty registry, got %d", m.Count())
	}
	if err := m.Close(sess.ID.String()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double close should report not found, got %v", err)
	}
}

func TestManagerDefaults(t *testing.T) {
	proc := newScriptProcess()
	m := newTestManager(proc).WithDefaults(Options{Shell: "/bin/zsh", Cols: 120, Rows: 40})

	done := make(chan *Session, 1)
	go func() {
		sess, err := m.Create(context.Background(), Options{})
		if err != nil {
			t.Error(err)
			return
		}
		done <- sess
	}()
	proc.emit(markerInteractive)

	sess := <-done
	defer m.CloseAll()

	if sess.Shell != "/bin/zsh" {
		t.Errorf("shell = %s", sess.Shell)
	}
	info := sess.Info()
	if info.Cols != 120 || info.Rows != 40 {
		t.Errorf("dimensions = %dx%d", info.Cols, info.Rows)
	}
}

func TestManagerCreateSpawnFailure(t *testing.T) {
	m := NewManager(&scriptHost{spawnErr: errors.New("boom")}, nil)

	if _, err := m.Create(context.Background(), Options{Shell: "/bin/fake"}); err == nil {
		t.Fatal("expected create to surface the spawn failure")
	}
	if m.Count() != 0 {
		t.Error("failed create must not register a session")
	}
}
