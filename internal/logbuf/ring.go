// Package logbuf captures the diagnostic output of child processes.
package logbuf

import (
	"bytes"
	"strings"
	"sync"
)

// maxPartial bounds an unterminated line. Longer output is split.
const maxPartial = 4096

// Ring is a thread-safe buffer holding the last N lines written to it.
// It implements io.Writer so it can be used as a child's stderr. Every
// complete line is also handed to the sink, if one is set.
type Ring struct {
	mu      sync.Mutex
	lines   []string
	size    int
	pos     int
	full    bool
	sink    func(string)
	partial bytes.Buffer
}

// New creates a ring that keeps the last n lines.
func New(n int) *Ring {
	if n <= 0 {
		n = 1
	}
	return &Ring{
		lines: make([]string, n),
		size:  n,
	}
}

// WithSink sets a function called with each complete line, after it has
// been stored. The sink runs with the ring locked and must not write back.
func (r *Ring) WithSink(sink func(line string)) *Ring {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
	return r
}

// Write splits p on newlines and stores each complete line.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial.Write(p)
	for {
		line, err := r.partial.ReadString('\n')
		if err != nil {
			r.partial.Reset()
			if len(line) >= maxPartial {
				r.add(line)
				break
			}
			r.partial.WriteString(line)
			break
		}
		r.add(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush stores any buffered unterminated line.
func (r *Ring) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partial.Len() > 0 {
		r.add(r.partial.String())
		r.partial.Reset()
	}
}

func (r *Ring) add(line string) {
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
	if r.sink != nil {
		r.sink(line)
	}
}

// Lines returns the stored lines, oldest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]string, r.pos)
		copy(out, r.lines[:r.pos])
		return out
	}
	out := make([]string, r.size)
	copy(out, r.lines[r.pos:])
	copy(out[r.size-r.pos:], r.lines[:r.pos])
	return out
}

// Last returns up to n of the most recent lines.
func (r *Ring) Last(n int) []string {
	all := r.Lines()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// String joins the stored lines.
func (r *Ring) String() string {
	return strings.Join(r.Lines(), "\n")
}
