// Package daemon tracks a backgrounded qagate server through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrRunning is returned by Acquire when another live process holds the file.
	ErrRunning = errors.New("already running")
	// ErrNotRunning is returned by Stop when no live process holds the file.
	ErrNotRunning = errors.New("not running")
)

// stopPoll is how often Stop checks whether the process has exited.
const stopPoll = 100 * time.Millisecond

// PIDFile manages a PID file for daemon process tracking.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes the given PID to the file, creating its directory.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// Acquire records pid as the holder. A file naming a dead process is
// replaced; one naming a different live process fails with ErrRunning.
func (p *PIDFile) Acquire(pid int) error {
	if cur, ok := p.IsRunning(); ok && cur != pid {
		return fmt.Errorf("pid %d: %w", cur, ErrRunning)
	}
	return p.WritePID(pid)
}

// Release removes the file if it still names pid.
func (p *PIDFile) Release(pid int) error {
	cur, err := p.Read()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil || cur != pid {
		return err
	}
	return p.Remove()
}

// Stop sends term to the holder, waits up to grace for it to exit, then
// sends kill. It returns the PID that was stopped.
func (p *PIDFile) Stop(term, kill syscall.Signal, grace time.Duration) (int, error) {
	pid, ok := p.IsRunning()
	if !ok {
		_ = p.Remove()
		return 0, ErrNotRunning
	}
	if err := p.Signal(term); err != nil {
		return pid, fmt.Errorf("signal %d: %w", pid, err)
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if _, alive := p.IsRunning(); !alive {
			_ = p.Remove()
			return pid, nil
		}
		time.Sleep(stopPoll)
	}
	if err := p.Signal(kill); err != nil {
		return pid, fmt.Errorf("kill %d: %w", pid, err)
	}
	_ = p.Remove()
	return pid, nil
}
