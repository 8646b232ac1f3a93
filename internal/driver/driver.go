// Package driver runs and supervises the child processes opm starts: the
// detached daemon and the daemon's clipboard helper.
package driver

import (
	"context"
	"io"
	"time"
)

// State represents the lifecycle state of a child process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

// ProcessInfo holds runtime information about a child process.
type ProcessInfo struct {
	PID       int
	State     State
	StartedAt time.Time
	ExitCode  int
	Error     string
}

// Driver is the interface for child process lifecycle management.
type Driver interface {
	// Start launches the process and returns immediately.
	Start(ctx context.Context) error

	// Stop sends a graceful shutdown signal, waits up to timeout,
	// then force-kills if still running.
	Stop(ctx context.Context, timeout time.Duration) error

	// Info returns current process state and metadata.
	Info() ProcessInfo

	// Wait blocks until the process exits and returns the exit code.
	Wait() (int, error)

	// Stdin returns the write end of the child's standard input, or nil if
	// the process was not started with one.
	Stdin() io.WriteCloser

	// LogLines returns the last n lines of combined stdout and stderr.
	LogLines(n int) []string
}
