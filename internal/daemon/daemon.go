// Package daemon serves the unlocked database to opm clients over the local
// socket.
//
// Requests are handled strictly one at a time on the goroutine that calls
// Serve, so the database needs no locking. A client that connects and then
// stalls blocks every other client until it goes away.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/benaskins/opm/internal/audit"
	"github.com/benaskins/opm/internal/ipc"
	"github.com/benaskins/opm/internal/store"
)

const (
	watcherDebounce = 500 * time.Millisecond

	// persistQuiet is how long after one of our own writes a change to the
	// database file is attributed to us.
	persistQuiet = 2 * time.Second

	acceptBackoff = 50 * time.Millisecond
)

// ErrAlreadyRunning is returned by Listen when another daemon owns the socket.
var ErrAlreadyRunning = errors.New("daemon: already running")

// Clipboard receives secrets that clients ask to have copied.
type Clipboard interface {
	Copy(secret []byte) error
}

// Daemon holds the unlocked database and answers requests for it.
type Daemon struct {
	db       *store.DB
	clip     Clipboard
	audit    audit.Recorder
	handlers map[ipc.Kind]handler
	logger   *slog.Logger

	mu       sync.Mutex
	ln       net.Listener
	socket   string
	stopping atomic.Bool
	stopped  chan struct{}

	lastPersist     atomic.Int64
	externalChanges atomic.Int64
	debounce        time.Duration
	quiet           time.Duration
}

// Option configures the daemon.
type Option func(*Daemon)

// WithClipboard routes copy requests to c. Without one they fail.
func WithClipboard(c Clipboard) Option {
	return func(d *Daemon) {
		d.clip = c
	}
}

// WithAudit records every request to r.
func WithAudit(r audit.Recorder) Option {
	return func(d *Daemon) {
		if r != nil {
			d.audit = r
		}
	}
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a daemon serving db.
func New(db *store.DB, opts ...Option) *Daemon {
	d := &Daemon{
		db:       db,
		audit:    audit.Discard,
		logger:   slog.With("component", "daemon"),
		stopped:  make(chan struct{}),
		debounce: watcherDebounce,
		quiet:    persistQuiet,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handlers = d.routes()
	return d
}

// Listen binds the socket. A name starting with '@' is in the Linux
// abstract namespace; any other name is a filesystem path, and a stale
// socket file left by a dead daemon is removed first.
func (d *Daemon) Listen(socket string) error {
	if !strings.HasPrefix(socket, "@") {
		if err := removeStale(socket); err != nil {
			return err
		}
	}

	ln, err := net.Listen("unix", socket)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, socket)
		}
		return fmt.Errorf("listening on %s: %w", socket, err)
	}
	if !strings.HasPrefix(socket, "@") {
		if err := os.Chmod(socket, 0600); err != nil {
			ln.Close()
			return fmt.Errorf("restricting socket: %w", err)
		}
	}

	d.mu.Lock()
	d.ln = ln
	d.socket = socket
	d.mu.Unlock()

	d.logger.Info("listening", "socket", socket)
	return nil
}

func removeStale(path string) error {
	if _, err := os.Lstat(path); err != nil {
		return nil
	}
	if conn, err := net.Dial("unix", path); err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	return nil
}

// Serve accepts and handles connections one at a time until Stop is called
// or ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context) error {
	d.mu.Lock()
	ln := d.ln
	d.mu.Unlock()
	if ln == nil {
		return errors.New("daemon: Serve called before Listen")
	}

	go func() {
		select {
		case <-ctx.Done():
			d.Stop()
		case <-d.stopped:
		}
	}()

	d.record(audit.Entry{Action: audit.ActionDaemonStart, Database: d.db.Path()}, nil)
	defer d.record(audit.Entry{Action: audit.ActionDaemonStop, Database: d.db.Path()}, nil)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if d.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Warn("accept failed", "error", err)
			time.Sleep(acceptBackoff)
			continue
		}
		d.handle(conn)
		if d.stopping.Load() {
			return nil
		}
	}
}

// Stop closes the listener. A Serve in progress returns once the current
// request is finished.
func (d *Daemon) Stop() {
	if !d.stopping.CompareAndSwap(false, true) {
		return
	}
	close(d.stopped)

	d.mu.Lock()
	ln := d.ln
	d.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	d.logger.Info("stopped")
}

// Stopped is closed once Stop has been called.
func (d *Daemon) Stopped() <-chan struct{} {
	return d.stopped
}

// ExternalChanges reports how many modifications of the database file the
// watcher has attributed to someone else.
func (d *Daemon) ExternalChanges() int64 {
	return d.externalChanges.Load()
}

func (d *Daemon) markPersist() {
	d.lastPersist.Store(time.Now().UnixNano())
}

func (d *Daemon) recentlyPersisted() bool {
	last := d.lastPersist.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < d.quiet
}
