package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benaskins/opm/internal/audit"
	"github.com/benaskins/opm/internal/clipboard"
	"github.com/benaskins/opm/internal/daemon"
	"github.com/benaskins/opm/internal/store"
)

const daemonCmdName = "daemon"

var daemonCmd = &cobra.Command{
	Use:   daemonCmdName,
	Short: "Run the opm daemon in the foreground",
	Long: `Unlock the database and serve it to opm clients until stopped.

Client commands start the daemon on demand; running it by hand is only
needed to watch its log.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var readyFD int

func init() {
	daemonCmd.Flags().IntVar(&readyFD, "ready-fd", 0, "Descriptor to report startup status on")
	daemonCmd.Flags().MarkHidden("ready-fd")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ready := newReadyReporter(readyFD)
	logger := slog.With("component", "main")

	if readyFD > 0 {
		// Detached from any terminal; don't die with the session.
		signal.Ignore(syscall.SIGHUP)
	}

	db, err := unlock()
	if err != nil {
		ready.fail(err)
		return err
	}
	defer db.Close()

	if err := lockMemory(); err != nil {
		logger.Warn("cannot lock memory, database pages may be swapped", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	opts := []daemon.Option{}
	if rec, closeAudit := openAudit(logger); rec != nil {
		defer closeAudit()
		opts = append(opts, daemon.WithAudit(rec))
	}

	helper := startHelper(ctx, logger)
	if helper != nil {
		opts = append(opts, daemon.WithClipboard(helper))
	}

	d := daemon.New(db, opts...)
	if err := d.Listen(cfg.Socket); err != nil {
		if helper != nil {
			helper.Stop(context.Background())
		}
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			err = errors.New("Daemon is already started")
		}
		ready.fail(err)
		return err
	}

	if cfg.WatchEnabled() {
		go func() {
			if err := d.Watch(ctx); err != nil {
				logger.Warn("database watcher stopped", "error", err)
			}
		}()
	}

	logger.Info("opm daemon ready", "database", db.Path(), "entries", db.Len(), "cipher", db.Mode())
	ready.ready()

	serveErr := d.Serve(ctx)
	cancel()

	if helper != nil {
		if err := helper.Stop(context.Background()); err != nil {
			logger.Warn("stopping clipboard helper", "error", err)
		}
	}
	logger.Info("opm daemon stopped")
	return serveErr
}

// unlock reads the passphrase and opens the database with it.
func unlock() (*store.DB, error) {
	var prompt string
	if readyFD <= 0 {
		prompt = "Passphrase: "
	}
	pass, err := readSecret(prompt)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	defer clear(pass)

	if dir := filepath.Dir(cfg.Database); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	db, err := store.Load(cfg.Database, pass, store.WithMode(cfg.Cipher))
	switch {
	case err == nil:
		return db, nil
	case errors.Is(err, store.ErrBadKeyOrCorrupt):
		return nil, errors.New("Invalid passphrase or database is corrupted")
	case errors.Is(err, store.ErrUnsupportedVersion):
		return nil, errors.New("Database was written by a newer opm; please upgrade")
	case errors.Is(err, store.ErrCorrupt):
		return nil, errors.New("Database is corrupted")
	}
	return nil, fmt.Errorf("loading %s: %w", cfg.Database, err)
}

func openAudit(logger *slog.Logger) (audit.Recorder, func()) {
	if !cfg.AuditEnabled() {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.AuditLog), 0700); err != nil {
		logger.Warn("audit log disabled", "error", err)
		return nil, nil
	}
	l, err := audit.NewLogger(cfg.AuditLog)
	if err != nil {
		logger.Warn("audit log disabled", "error", err)
		return nil, nil
	}
	return l, func() { l.Close() }
}

// startHelper launches this binary again as the clipboard helper. The
// daemon keeps running without one; copy requests then fail.
func startHelper(ctx context.Context, logger *slog.Logger) *clipboard.Process {
	exe, err := os.Executable()
	if err != nil {
		logger.Warn("clipboard disabled", "error", err)
		return nil
	}
	args := []string{helperCmdName}
	if verbose {
		args = append(args, "--verbose")
	}
	p, err := clipboard.Spawn(ctx, exe, args, os.Environ())
	if err != nil {
		logger.Warn("clipboard disabled", "error", err)
		return nil
	}
	return p
}
