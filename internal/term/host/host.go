// Package host spawns the interactive processes a session drives.
//
// The Host interface is the boundary between the session state machine
// and the environment that actually owns processes: production uses
// the PTY implementation, tests substitute a scripted fake. The host
// guarantees bytes arrive in the order the process produced them;
// tolerating markers split across read boundaries is the session's
// job, not the host's.
package host

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// Process is one spawned interactive process. The input writer has
// exactly one owner; the session never shares it.
type Process interface {
	// Input is the byte sink connected to the process's stdin.
	Input() io.Writer
	// Output is the byte source carrying the process's combined
	// terminal output.
	Output() io.Reader
	// Resize changes the terminal dimensions.
	Resize(cols, rows int) error
	// Close terminates the process and releases the terminal.
	Close() error
}

// Host spawns interactive processes with terminal semantics.
type Host interface {
	Spawn(command string, args []string, cols, rows int) (Process, error)
}

// PTY is the production Host backed by a pseudo-terminal.
type PTY struct {
	// WorkingDir is the child's initial directory; empty means HOME,
	// falling back to /tmp.
	WorkingDir string
	// Env holds extra environment variables for the child.
	Env map[string]string
}

// Spawn starts command under a new PTY sized to cols x rows.
func (h *PTY) Spawn(command string, args []string, cols, rows int) (Process, error) {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	dir := h.WorkingDir
	if dir == "" {
		dir = os.Getenv("HOME")
		if dir == "" {
			dir = "/tmp"
		}
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for key, value := range h.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	return &ptyProcess{cmd: cmd, ptmx: ptmx}, nil
}

type ptyProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

func (p *ptyProcess) Input() io.Writer  { return p.ptmx }
func (p *ptyProcess) Output() io.Reader { return p.ptmx }

func (p *ptyProcess) Resize(cols, rows int) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

func (p *ptyProcess) Close() error {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	err := p.ptmx.Close()
	// Reap the child so it does not linger as a zombie.
	go p.cmd.Wait()
	return err
}
