package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/logging"
	"github.com/GriffinCanCode/termhost/internal/term/host"
)

// ErrSessionNotFound means the requested session ID is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Info is the public representation of a session.
type Info struct {
	ID        string    `json:"id"`
	Shell     string    `json:"shell"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	StartedAt time.Time `json:"started_at"`
	Ready     bool      `json:"ready"`
	Executing bool      `json:"executing"`
}

// Manager creates and tracks sessions, one per terminal tab.
type Manager struct {
	host     host.Host
	log      *logging.Logger
	metrics  *monitoring.Metrics
	defaults Options
	sessions sync.Map // map[string]*Session
}

// NewManager creates a session manager backed by the given host.
func NewManager(h host.Host, log *logging.Logger) *Manager {
	return &Manager{host: h, log: log}
}

// WithDefaults sets fallback options applied when Create receives
// zero values.
func (m *Manager) WithDefaults(opts Options) *Manager {
	m.defaults = opts
	return m
}

// WithMetrics enables metrics collection on sessions created by this
// manager.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Create spawns a new session and blocks until it is interactive.
func (m *Manager) Create(ctx context.Context, opts Options) (*Session, error) {
	if opts.Shell == "" {
		opts.Shell = m.defaults.Shell
	}
	if opts.WorkingDir == "" {
		opts.WorkingDir = m.defaults.WorkingDir
	}
	if opts.Cols == 0 {
		opts.Cols = m.defaults.Cols
	}
	if opts.Rows == 0 {
		opts.Rows = m.defaults.Rows
	}
	if opts.Shell == "" {
		opts.Shell = os.Getenv("SHELL")
		if opts.Shell == "" {
			opts.Shell = "/bin/bash"
		}
	}

	sess := New(m.host, opts, m.log)
	sess.metrics = m.metrics
	if err := sess.Start(ctx); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.sessions.Store(sess.ID.String(), sess)
	if m.log != nil {
		m.log.Info("session created",
			zap.String("session_id", sess.ID.String()),
			zap.String("shell", sess.Shell))
	}
	return sess, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return value.(*Session), nil
}

// Execute runs a command on the identified session.
func (m *Manager) Execute(ctx context.Context, sessionID, command string) (ExecutionResult, error) {
	sess, err := m.Get(sessionID)
	if err != nil {
		return ExecutionResult{}, err
	}
	return sess.Execute(ctx, command)
}

// List returns all tracked sessions.
func (m *Manager) List() []Info {
	var infos []Info
	m.sessions.Range(func(_, value interface{}) bool {
		infos = append(infos, value.(*Session).Info())
		return true
	})
	return infos
}

// Close terminates a session and removes it from the registry.
func (m *Manager) Close(sessionID string) error {
	value, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess := value.(*Session)
	if m.log != nil {
		m.log.Info("session closed", zap.String("session_id", sessionID))
	}
	return sess.Close()
}

// CloseAll tears down every session, used on shutdown.
func (m *Manager) CloseAll() {
	m.sessions.Range(func(key, value interface{}) bool {
		value.(*Session).Close()
		m.sessions.Delete(key)
		return true
	})
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	n := 0
	m.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Info returns the session's public representation.
func (s *Session) Info() Info {
	s.stateMu.Lock()
	cols, rows := s.Cols, s.Rows
	s.stateMu.Unlock()

	return Info{
		ID:        s.ID.String(),
		Shell:     s.Shell,
		Cols:      cols,
		Rows:      rows,
		StartedAt: s.StartedAt,
		Ready:     s.Ready(),
		Executing: s.Active(),
	}
}
