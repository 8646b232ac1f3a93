package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/benaskins/opm/internal/logbuf"
)

// ErrNotStarted is returned by Wait on a process that was never started.
var ErrNotStarted = errors.New("process not started")

// NativeDriver manages a fork/exec child process.
type NativeDriver struct {
	cfg NativeConfig

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   string
	buf       *logbuf.Ring
	done      chan struct{}
}

// NativeConfig holds configuration for a native process.
type NativeConfig struct {
	Path string
	Args []string
	Env  []string

	// Stdin gives the child a pipe as standard input, reachable through
	// NativeDriver.Stdin. Otherwise the child reads from /dev/null.
	Stdin bool

	// ExtraFiles are inherited by the child as descriptors 3 and up.
	ExtraFiles []*os.File

	// Detach starts the child in its own session so it outlives us.
	// Otherwise it gets its own process group, which Stop signals.
	Detach bool

	// Output, if set, receives the child's stdout and stderr directly
	// instead of the ring. A detached child needs this, since a pipe back
	// to us would break when we exit.
	Output *os.File

	BufSize int          // output ring size (lines), 0 for default
	Sink    func(string) // receives each output line, may be nil
}

// NewNative creates a new native process driver.
func NewNative(cfg NativeConfig) *NativeDriver {
	bufSize := cfg.BufSize
	if bufSize <= 0 {
		bufSize = 200
	}
	buf := logbuf.New(bufSize)
	if cfg.Sink != nil {
		buf.WithSink(cfg.Sink)
	}
	return &NativeDriver{
		cfg:   cfg,
		state: StateStopped,
		buf:   buf,
	}
}

// Start launches the child. The context only bounds the start itself; the
// child's lifetime is controlled through Stop.
func (d *NativeDriver) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateRunning || d.state == StateStarting {
		return fmt.Errorf("process already running")
	}

	d.cmd = exec.Command(d.cfg.Path, d.cfg.Args...)
	d.cmd.Env = d.cfg.Env
	d.cmd.ExtraFiles = d.cfg.ExtraFiles
	if d.cfg.Output != nil {
		d.cmd.Stdout = d.cfg.Output
		d.cmd.Stderr = d.cfg.Output
	} else {
		d.cmd.Stdout = d.buf
		d.cmd.Stderr = d.buf
	}
	if d.cfg.Detach {
		d.cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	} else {
		d.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	d.stdin = nil
	if d.cfg.Stdin {
		w, err := d.cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("creating stdin pipe: %w", err)
		}
		d.stdin = w
	}

	d.state = StateStarting
	if err := d.cmd.Start(); err != nil {
		d.state = StateFailed
		d.exitErr = err.Error()
		return fmt.Errorf("starting process: %w", err)
	}

	d.state = StateRunning
	d.startedAt = time.Now()
	d.done = make(chan struct{})

	go d.wait()
	return nil
}

func (d *NativeDriver) wait() {
	err := d.cmd.Wait()
	d.buf.Flush()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateStopping {
		d.state = StateStopped
	} else {
		d.state = StateFailed
	}

	d.exitCode = 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			d.exitCode = exitErr.ExitCode()
		}
		d.exitErr = err.Error()
	}
	close(d.done)
}

// Stop closes the child's stdin, signals its process group with SIGTERM and
// escalates to SIGKILL after timeout.
func (d *NativeDriver) Stop(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopping
	pid := d.cmd.Process.Pid
	stdin := d.stdin
	d.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-d.done:
		return nil
	case <-time.After(timeout):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-d.done
		return nil
	case <-ctx.Done():
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-d.done
		return ctx.Err()
	}
}

func (d *NativeDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := ProcessInfo{
		State:     d.state,
		StartedAt: d.startedAt,
		ExitCode:  d.exitCode,
		Error:     d.exitErr,
	}
	if d.cmd != nil && d.cmd.Process != nil {
		info.PID = d.cmd.Process.Pid
	}
	return info
}

func (d *NativeDriver) Wait() (int, error) {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return -1, ErrNotStarted
	}
	<-done

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitCode, nil
}

// Done is closed when the child exits.
func (d *NativeDriver) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func (d *NativeDriver) Stdin() io.WriteCloser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stdin
}

func (d *NativeDriver) LogLines(n int) []string {
	return d.buf.Last(n)
}
