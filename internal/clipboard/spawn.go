package clipboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benaskins/opm/internal/driver"
)

const (
	stopTimeout = 2 * time.Second
	tailLines   = 10
)

// Process is the daemon's handle on a running helper.
type Process struct {
	drv    driver.Driver
	fwd    *Forwarder
	exited chan struct{}
	logger *slog.Logger
}

// Spawn starts the helper as path with args. The helper reads secrets from
// its standard input; its diagnostics are forwarded to the daemon log.
func Spawn(ctx context.Context, path string, args, env []string) (*Process, error) {
	logger := slog.With("component", "clipboard-helper")
	drv := driver.NewNative(driver.NativeConfig{
		Path:  path,
		Args:  args,
		Env:   env,
		Stdin: true,
		Sink: func(line string) {
			logger.Info("helper output", "line", line)
		},
	})
	return start(ctx, drv, logger)
}

func start(ctx context.Context, drv driver.Driver, logger *slog.Logger) (*Process, error) {
	if err := drv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting clipboard helper: %w", err)
	}
	p := &Process{
		drv:    drv,
		fwd:    NewForwarder(drv.Stdin()),
		exited: make(chan struct{}),
		logger: logger,
	}
	logger.Info("clipboard helper started", "pid", drv.Info().PID)
	go p.watch()
	return p, nil
}

func (p *Process) watch() {
	defer close(p.exited)
	code, _ := p.drv.Wait()
	p.fwd.Disable()

	info := p.drv.Info()
	switch {
	case info.State == driver.StateStopped, code == 0:
		p.logger.Info("clipboard helper stopped")
	case code == ExitNoDisplay:
		p.logger.Warn("no display available, clipboard disabled")
	default:
		p.logger.Warn("clipboard helper exited",
			"exit_code", code, "error", info.Error, "output", p.drv.LogLines(tailLines))
	}
}

// Copy forwards secret to the helper. It fails with ErrUnavailable once the
// helper has exited.
func (p *Process) Copy(secret []byte) error {
	return p.fwd.Copy(secret)
}

// Exited is closed once the helper process has gone.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Stop closes the pipe, which the helper treats as a request to exit, and
// signals it if it has not gone within the stop timeout.
func (p *Process) Stop(ctx context.Context) error {
	p.fwd.Disable()
	if w := p.drv.Stdin(); w != nil {
		w.Close()
	}
	select {
	case <-p.exited:
		return nil
	case <-time.After(stopTimeout):
	case <-ctx.Done():
	}
	err := p.drv.Stop(ctx, stopTimeout)
	<-p.exited
	return err
}
