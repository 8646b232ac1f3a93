package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benaskins/opm/internal/clipboard"
)

const helperCmdName = "clipboard-helper"

var helperCmd = &cobra.Command{
	Use:    helperCmdName,
	Short:  "Serve the clipboard selection for the daemon",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runHelper,
}

func init() {
	rootCmd.AddCommand(helperCmd)
}

func runHelper(cmd *cobra.Command, args []string) error {
	logger := slog.With("component", "clipboard-helper")
	if err := exitWithParent(); err != nil {
		logger.Warn("cannot request parent-death signal", "error", err)
	}

	sel, err := clipboard.OpenX11()
	if err != nil {
		logger.Warn("no display", "error", err)
		os.Exit(clipboard.ExitNoDisplay)
	}
	defer sel.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	err = clipboard.NewHelper(sel).Run(ctx, os.Stdin)
	if errors.Is(err, clipboard.ErrConnectionLost) {
		logger.Warn("display connection lost")
		return nil
	}
	return err
}
