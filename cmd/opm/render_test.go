package main

import (
	"bufio"
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/benaskins/opm/internal/store"
)

func testEntries(t *testing.T) []store.Entry {
	t.Helper()
	var out []store.Entry
	for _, f := range []store.Fields{
		{Name: "github", Login: "alice", Password: "p1", URL: "https://github.com"},
		{Name: "mail", Login: "bob", Password: "p2", Notes: "work"},
	} {
		e, err := store.NewEntry(f)
		if err != nil {
			t.Fatalf("NewEntry: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestRenderEntries(t *testing.T) {
	var buf bytes.Buffer
	renderEntries(&buf, testEntries(t), false)
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", out)
	}
	if !strings.Contains(lines[1], "1") || !strings.Contains(lines[1], "github") || !strings.Contains(lines[1], "alice") {
		t.Errorf("unexpected first row %q", lines[1])
	}
	if strings.Contains(out, "https://github.com") {
		t.Error("expected URL only in verbose output")
	}
	if strings.Contains(out, "p1") || strings.Contains(out, "p2") {
		t.Error("listing must not show passwords")
	}
}

func TestRenderEntriesVerbose(t *testing.T) {
	var buf bytes.Buffer
	renderEntries(&buf, testEntries(t), true)
	out := buf.String()

	for _, want := range []string{"URL", "NOTES", "https://github.com", "work"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in verbose output", want)
		}
	}
	if strings.Contains(out, "p1") {
		t.Error("listing must not show passwords")
	}
}

func TestRenderEntriesEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderEntries(&buf, nil, false)
	if strings.TrimSpace(buf.String()) != "No entries" {
		t.Errorf("expected No entries, got %q", buf.String())
	}
}

func TestRenderPassword(t *testing.T) {
	entries := testEntries(t)
	var buf bytes.Buffer
	renderPassword(&buf, &entries[0])
	if !strings.Contains(buf.String(), "github") || !strings.Contains(buf.String(), "p1") {
		t.Errorf("unexpected password line %q", buf.String())
	}
}

func TestPickerSelects(t *testing.T) {
	p := newPicker(testEntries(t))
	if len(p.items) != 2 || p.items[1] != "mail (bob)" {
		t.Fatalf("unexpected items %v", p.items)
	}
	if p.chosen != -1 {
		t.Errorf("expected nothing chosen yet, got %d", p.chosen)
	}
	if !strings.Contains(p.View(), "> github (alice)") {
		t.Errorf("expected cursor on first item, got %q", p.View())
	}
}

func TestReadRawLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("first\r\nsecond"))
	got, err := readRawLine(r)
	if err != nil || string(got) != "first" {
		t.Fatalf("expected first, got %q, %v", got, err)
	}
	got, err = readRawLine(r)
	if err != nil || string(got) != "second" {
		t.Fatalf("expected unterminated second line, got %q, %v", got, err)
	}
	if _, err := readRawLine(r); err == nil {
		t.Fatal("expected error at end of input")
	}
}

func TestAwaitReady(t *testing.T) {
	for _, tc := range []struct {
		name    string
		send    string
		wantErr string
	}{
		{"ok", "ok\n", ""},
		{"failure", "Invalid passphrase or database is corrupted\n", "Invalid passphrase or database is corrupted"},
		{"silent exit", "", "daemon exited during startup"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r, w, err := os.Pipe()
			if err != nil {
				t.Fatalf("Pipe: %v", err)
			}
			defer r.Close()
			w.WriteString(tc.send)
			w.Close()

			err = awaitReady(r)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("expected ready, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestReadyReporterWithoutPipe(t *testing.T) {
	r := newReadyReporter(0)
	r.ready()
	r.fail(os.ErrClosed)
}
