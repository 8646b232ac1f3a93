package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/benaskins/opm/internal/driver"
	"github.com/benaskins/opm/internal/ipc"
)

const (
	readyOK      = "ok"
	readyTimeout = 30 * time.Second
)

func newClient() *ipc.Client {
	return ipc.NewClient(cfg.Socket)
}

// ensureDaemon returns a client for a running daemon, starting one first
// if nothing answers on the socket.
func ensureDaemon(ctx context.Context) (*ipc.Client, error) {
	c := newClient()
	if c.Running() {
		return c, nil
	}
	if err := startDaemon(ctx); err != nil {
		return nil, err
	}
	if err := c.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("waiting for daemon: %w", err)
	}
	return c, nil
}

// startDaemon launches "opm daemon" detached from this terminal. The
// passphrase travels over the child's stdin; the child reports the outcome
// of unlocking and binding on a separate ready pipe, so a wrong passphrase
// is reported here rather than only in the daemon log.
func startDaemon(ctx context.Context) error {
	if _, err := os.Stat(cfg.Database); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Creating new database %s\n", cfg.Database)
	}
	pass, err := readSecret("Passphrase: ")
	if err != nil {
		return err
	}
	defer clear(pass)

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating opm binary: %w", err)
	}
	logPath, err := daemonLogPath()
	if err != nil {
		return err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening daemon log: %w", err)
	}
	defer logFile.Close()

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating ready pipe: %w", err)
	}
	defer readyR.Close()

	args := []string{daemonCmdName, "--ready-fd", "3",
		"--config", configPath, "--database", cfg.Database, "--socket", cfg.Socket}
	if verbose {
		args = append(args, "--verbose")
	}
	drv := driver.NewNative(driver.NativeConfig{
		Path:       exe,
		Args:       args,
		Env:        os.Environ(),
		Stdin:      true,
		ExtraFiles: []*os.File{readyW},
		Detach:     true,
		Output:     logFile,
	})
	err = drv.Start(ctx)
	readyW.Close()
	if err != nil {
		return err
	}
	slog.Debug("daemon spawned", "pid", drv.Info().PID, "log", logPath)

	if err := sendPassphrase(drv.Stdin(), pass); err != nil {
		return fmt.Errorf("sending passphrase to daemon: %w", err)
	}
	return awaitReady(readyR)
}

func sendPassphrase(w io.WriteCloser, pass []byte) error {
	buf := make([]byte, len(pass)+1)
	defer clear(buf)
	copy(buf, pass)
	buf[len(pass)] = '\n'
	_, err := w.Write(buf)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}

// awaitReady reads the daemon's single status line.
func awaitReady(r *os.File) error {
	r.SetReadDeadline(time.Now().Add(readyTimeout))
	line, err := bufio.NewReader(r).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == readyOK {
		return nil
	}
	if line != "" {
		return errors.New(line)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("waiting for daemon: %w", err)
	}
	return errors.New("daemon exited during startup; see ~/.opm/daemon.log")
}

// readyReporter is the daemon's end of the ready pipe. With no pipe it only
// logs.
type readyReporter struct {
	f *os.File
}

func newReadyReporter(fd int) *readyReporter {
	if fd <= 0 {
		return &readyReporter{}
	}
	return &readyReporter{f: os.NewFile(uintptr(fd), "ready")}
}

func (r *readyReporter) ready() {
	r.send(readyOK)
}

func (r *readyReporter) fail(err error) {
	r.send(err.Error())
}

func (r *readyReporter) send(line string) {
	if r.f == nil {
		return
	}
	fmt.Fprintln(r.f, line)
	r.f.Close()
	r.f = nil
}
