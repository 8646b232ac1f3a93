package store

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestEntryLayout(t *testing.T) {
	if got := binary.Size(Entry{}); got != EntrySize || EntrySize != 640 {
		t.Errorf("expected 640-byte entries, got %d", got)
	}
	if got := binary.Size(Header{}); got != HeaderSize || HeaderSize != 16404 {
		t.Errorf("expected 16404-byte header, got %d", got)
	}
}

func TestNewEntryFields(t *testing.T) {
	f := Fields{Name: "github", URL: "https://github.com", Login: "alice", Password: "p1", Notes: "2fa on"}
	e, err := NewEntry(f)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	if got := e.Fields(); got != f {
		t.Errorf("expected %+v, got %+v", f, got)
	}
	if string(e.Secret()) != "p1" {
		t.Errorf("expected secret p1, got %q", e.Secret())
	}
	if e.IsTombstone() {
		t.Error("named entry reported as tombstone")
	}
}

func TestNewEntryTooLong(t *testing.T) {
	_, err := NewEntry(Fields{Name: "x", Password: strings.Repeat("p", PasswordSize)})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}

	// size-1 bytes still fit with a terminating NUL.
	if _, err := NewEntry(Fields{Name: strings.Repeat("n", NameSize-1)}); err != nil {
		t.Errorf("expected max-length name to fit: %v", err)
	}
}

func TestUnterminatedField(t *testing.T) {
	var e Entry
	for i := range e.Login {
		e.Login[i] = 'l'
	}
	if got := e.Fields().Login; len(got) != LoginSize {
		t.Errorf("expected full-width login, got %d bytes", len(got))
	}
}
