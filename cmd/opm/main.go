package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/opm/internal/config"
)

var (
	configPath   string
	databaseFlag string
	socketFlag   string
	verbose      bool
	consoleFlag  bool
	stopFlag     bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "opm [filter]",
	Short: "Local password manager",
	Long: `opm keeps credentials in an encrypted file unlocked by a background daemon.

With a filter, the matching entry's password is copied to the clipboard.
Without one, every entry is offered.`,
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		if stopFlag {
			return runStop(cmd, nil)
		}
		return runGet(cmd, args)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.DefaultPath(), "Configuration file")
	pf.StringVarP(&databaseFlag, "database", "D", "", "Database file (default ~/.opm.db)")
	pf.StringVar(&socketFlag, "socket", "", "Daemon socket, '@' prefix for the abstract namespace")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Show every field and debug logging")
	pf.BoolVarP(&consoleFlag, "console", "c", false, "Show passwords in the terminal instead of copying")
	pf.MarkHidden("socket")

	rootCmd.Flags().BoolVar(&stopFlag, "stop", false, "Stop the running daemon")
}

// setup loads the configuration and applies flag overrides before any
// command runs.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if databaseFlag != "" {
		cfg.Database = databaseFlag
	}
	if socketFlag != "" {
		cfg.Socket = socketFlag
	}
	if consoleFlag {
		cfg.Console = true
	}
	setupLogging(cmd)
	return nil
}

func setupLogging(cmd *cobra.Command) {
	level := slog.LevelWarn
	if cmd.Name() == daemonCmdName || cmd.Name() == helperCmdName {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
