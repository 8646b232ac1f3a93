package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/benaskins/opm/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)

	// hiddenStyle draws text black on black: invisible until selected.
	hiddenStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("0"))
)

// renderEntries lists entries with their 1-based item numbers. Verbose
// output adds the URL and notes columns. Passwords are never listed.
func renderEntries(w io.Writer, entries []store.Entry, verbose bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries")
		return
	}

	// Columns are aligned before styling; escape sequences would skew
	// the tabwriter's widths.
	var buf strings.Builder
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if verbose {
		fmt.Fprintln(tw, "#\tNAME\tLOGIN\tURL\tNOTES")
	} else {
		fmt.Fprintln(tw, "#\tNAME\tLOGIN")
	}
	for i := range entries {
		f := entries[i].Fields()
		if verbose {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, f.Name, f.Login, dash(f.URL), dash(f.Notes))
		} else {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, f.Name, f.Login)
		}
	}
	tw.Flush()

	header, rest, _ := strings.Cut(buf.String(), "\n")
	fmt.Fprintln(w, headerStyle.Render(header))
	fmt.Fprint(w, rest)
}

// renderPassword shows the entry's password hidden in the terminal.
func renderPassword(w io.Writer, e *store.Entry) {
	fmt.Fprintf(w, "%s (%s): %s\n", e.Label(), e.Fields().Login, hiddenStyle.Render(string(e.Secret())))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
