// Package audit provides append-only structured logging of database access.
//
// Every operation the daemon performs on behalf of a client is recorded to
// ~/.opm/audit.log as newline-delimited JSON. Records name entries; they
// never carry logins, passwords, or notes.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionEntryAdd      Action = "entry_add"
	ActionEntryRemove   Action = "entry_remove"
	ActionEntryQuery    Action = "entry_query"
	ActionClipboardCopy Action = "clipboard_copy"
	ActionDaemonStart   Action = "daemon_start"
	ActionDaemonStop    Action = "daemon_stop"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Name      string    `json:"name,omitempty"`    // entry name, never its secret
	Index     int       `json:"index,omitempty"`   // 1-based position for removals
	Matches   *int      `json:"matches,omitempty"` // entries returned by a query
	Database  string    `json:"database,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Recorder is what the daemon needs from an audit log.
type Recorder interface {
	Log(entry Entry) error
}

// Logger writes audit entries to an append-only file.
type Logger struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{w: f}, nil
}

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	return l.w.Close()
}

// Discard is a Recorder that drops everything.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Log(Entry) error { return nil }

// Count returns a pointer for Entry.Matches.
func Count(n int) *int {
	return &n
}
