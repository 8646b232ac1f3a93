package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/benaskins/opm/internal/ipc"
	"github.com/benaskins/opm/internal/store"
)

// describe turns protocol failures into messages for the terminal.
func describe(err error, failed string) error {
	if errors.Is(err, ipc.ErrFailed) {
		return errors.New(failed)
	}
	return err
}

var getCmd = &cobra.Command{
	Use:   "get [filter]",
	Short: "Copy the password of the matching entry",
	Long: `Find entries whose name or login contains filter and copy the password
of the chosen one to the clipboard. Several matches are offered for selection.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	c, err := ensureDaemon(cmd.Context())
	if err != nil {
		return err
	}

	var entries []store.Entry
	if len(args) == 1 {
		entries, err = c.Query(args[0])
	} else {
		entries, err = c.All()
	}
	if err != nil {
		return describe(err, "Cannot read entries")
	}
	defer store.Wipe(entries)

	if len(entries) == 0 {
		fmt.Println("No entry found")
		return nil
	}

	i := 0
	if len(entries) > 1 {
		i, err = choose(entries)
		if errors.Is(err, errCancelled) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return deliver(c, &entries[i])
}

// deliver copies the entry's password, or shows it hidden in the terminal
// when console mode is on or the clipboard is unavailable.
func deliver(c *ipc.Client, e *store.Entry) error {
	if !cfg.Console {
		err := c.Copy(e.Secret())
		if err == nil {
			fmt.Printf("Password for %s copied to clipboard\n", e.Label())
			return nil
		}
		fmt.Fprintln(os.Stderr, "Clipboard unavailable, showing password instead")
	}
	renderPassword(os.Stdout, e)
	return nil
}

var listCmd = &cobra.Command{
	Use:     "list [filter]",
	Aliases: []string{"ls"},
	Short:   "List entries",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ensureDaemon(cmd.Context())
		if err != nil {
			return err
		}
		var entries []store.Entry
		if len(args) == 1 {
			entries, err = c.Query(args[0])
		} else {
			entries, err = c.All()
		}
		if err != nil {
			return describe(err, "Cannot read entries")
		}
		defer store.Wipe(entries)

		renderEntries(os.Stdout, entries, verbose)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ensureDaemon(cmd.Context())
		if err != nil {
			return err
		}

		name, err := readRequired("Name: ")
		if err != nil {
			return err
		}
		url, err := readLine("URL (optional): ")
		if err != nil {
			return err
		}
		login, err := readRequired("Login: ")
		if err != nil {
			return err
		}
		pass, err := readNewPassword()
		if err != nil {
			return err
		}
		defer clear(pass)
		notes, err := readLine("Notes (optional): ")
		if err != nil {
			return err
		}

		batch := make([]store.Entry, 1)
		defer store.Wipe(batch)
		batch[0], err = store.NewEntry(store.Fields{
			Name: name, URL: url, Login: login, Password: string(pass), Notes: notes,
		})
		if err != nil {
			return err
		}

		if err := c.Add(batch[0]); err != nil {
			return describe(err, "Cannot add entry")
		}
		fmt.Printf("Entry %s added\n", name)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <item>",
	Aliases: []string{"rm"},
	Short:   "Remove the entry at an item number shown by an unfiltered list",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid item number %q", args[0])
		}
		c, err := ensureDaemon(cmd.Context())
		if err != nil {
			return err
		}
		if err := c.Remove(index); err != nil {
			return describe(err, fmt.Sprintf("No entry %d", index))
		}
		fmt.Printf("Entry %d removed\n", index)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	c := newClient()
	if !c.Running() {
		fmt.Println("Daemon is not started")
		return nil
	}
	if err := c.Stop(); err != nil {
		return describe(err, "Daemon refused to stop")
	}
	fmt.Println("Daemon stopped")
	return nil
}

func init() {
	rootCmd.AddCommand(getCmd, listCmd, addCmd, removeCmd, stopCmd)
}
