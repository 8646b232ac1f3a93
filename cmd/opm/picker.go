package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/benaskins/opm/internal/store"
)

var errCancelled = errors.New("cancelled")

var (
	cursorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

type pickerKeys struct {
	Up     key.Binding
	Down   key.Binding
	Choose key.Binding
	Quit   key.Binding
}

var keys = pickerKeys{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Choose: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "copy")),
	Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

// picker lets the user choose one of several matching entries.
type picker struct {
	items  []string
	cursor int
	chosen int
	done   bool
}

func newPicker(entries []store.Entry) picker {
	items := make([]string, len(entries))
	for i := range entries {
		f := entries[i].Fields()
		items[i] = fmt.Sprintf("%s (%s)", f.Name, f.Login)
	}
	return picker{items: items, chosen: -1}
}

func (p picker) Init() tea.Cmd { return nil }

func (p picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return p, nil
	}
	switch {
	case key.Matches(km, keys.Up):
		if p.cursor > 0 {
			p.cursor--
		}
	case key.Matches(km, keys.Down):
		if p.cursor < len(p.items)-1 {
			p.cursor++
		}
	case key.Matches(km, keys.Choose):
		p.chosen = p.cursor
		p.done = true
		return p, tea.Quit
	case key.Matches(km, keys.Quit):
		p.done = true
		return p, tea.Quit
	}
	return p, nil
}

func (p picker) View() string {
	if p.done {
		return ""
	}
	var b strings.Builder
	for i, item := range p.items {
		if i == p.cursor {
			b.WriteString(cursorStyle.Render("> " + item))
		} else {
			b.WriteString("  " + item)
		}
		b.WriteByte('\n')
	}
	help := []string{}
	for _, k := range []key.Binding{keys.Up, keys.Down, keys.Choose, keys.Quit} {
		h := k.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	b.WriteString(helpStyle.Render(strings.Join(help, " • ")))
	b.WriteByte('\n')
	return b.String()
}

// choose returns the 0-based index of the entry the user picked. On a
// terminal it runs the interactive picker; otherwise entries are listed and
// an item number is read.
func choose(entries []store.Entry) (int, error) {
	if !stdinIsTerminal() || !stdoutIsTerminal() {
		renderEntries(os.Stdout, entries, verbose)
		i, err := readIndex(len(entries))
		if err != nil {
			return 0, err
		}
		return i - 1, nil
	}

	m, err := tea.NewProgram(newPicker(entries), tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		return 0, fmt.Errorf("running picker: %w", err)
	}
	p := m.(picker)
	if p.chosen < 0 {
		return 0, errCancelled
	}
	return p.chosen, nil
}
