// Package store is the encrypted-at-rest credential database.
//
// A database is a header followed by a table of fixed-size entry slots. The
// table is held decrypted in memory for the life of the daemon and rewritten
// to disk, encrypted, after every change. Deleted entries leave tombstone
// slots that are reused before the table grows.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/benaskins/opm/internal/cipher"
)

// Errors returned by Load and the mutating operations.
var (
	ErrIO                 = errors.New("store: i/o error")
	ErrBadKeyOrCorrupt    = errors.New("store: invalid passphrase or database is corrupted")
	ErrCorrupt            = errors.New("store: database is corrupted")
	ErrUnsupportedVersion = errors.New("store: database version is not supported, please upgrade opm")
	ErrNotFound           = errors.New("store: no such entry")
	ErrInvalidEntry       = errors.New("store: invalid entry")
)

const fileMode = 0600

// rename is swapped out by tests to simulate a failed commit.
var rename = os.Rename

// DB is an open database. It is not safe for concurrent use; the daemon
// serves one request at a time.
type DB struct {
	path   string
	sealer *cipher.Sealer
	header Header
	slots  []Entry
	live   int
}

// Option configures Load.
type Option func(*options)

type options struct {
	mode cipher.Mode
}

// WithMode selects the cipher envelope used if Load creates a new database.
// Existing files keep the envelope they were written with.
func WithMode(m cipher.Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// Load opens the database at path. A missing file is created holding an
// empty database; a zero-length file loads as empty.
func Load(path string, passphrase []byte, opts ...Option) (*DB, error) {
	o := options{mode: cipher.ModeLegacy}
	for _, opt := range opts {
		opt(&o)
	}

	db := &DB{
		path:   path,
		sealer: cipher.NewSealer(passphrase, o.mode),
		header: newHeader(),
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := db.Persist(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: opening database: %w", ErrIO, err)
	}
	defer f.Close()

	img, err := db.sealer.Open(f)
	if err != nil {
		db.Close()
		if errors.Is(err, cipher.ErrDecrypt) {
			return nil, fmt.Errorf("%w: %w", ErrBadKeyOrCorrupt, err)
		}
		return nil, fmt.Errorf("%w: reading database: %w", ErrIO, err)
	}
	defer cipher.Wipe(img)

	if len(img) == 0 {
		return db, nil
	}

	h, slots, err := decode(img)
	if err != nil {
		db.Close()
		return nil, err
	}
	db.header = h
	db.slots = slots
	for i := range slots {
		if !slots[i].IsTombstone() {
			db.live++
		}
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Mode reports the cipher envelope the database is written with.
func (db *DB) Mode() cipher.Mode {
	return db.sealer.Mode()
}

// Len returns the number of live entries.
func (db *DB) Len() int {
	return db.live
}

// Slots returns the size of the slot table, tombstones included.
func (db *DB) Slots() int {
	return len(db.slots)
}

// Add stores e in the first tombstone slot, or in one new slot if there is
// none, then persists. On failure the table is left as it was.
func (db *DB) Add(e Entry) error {
	if e.IsTombstone() {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}

	idx := db.freeSlot()
	grew := idx < 0
	if grew {
		db.slots = append(db.slots, e)
		idx = len(db.slots) - 1
	} else {
		db.slots[idx] = e
	}
	db.live++

	if err := db.Persist(); err != nil {
		db.slots[idx].wipe()
		if grew {
			db.slots = db.slots[:idx]
		}
		db.live--
		return err
	}
	return nil
}

// Remove deletes the index'th live entry, counting from 1 in storage order,
// then persists. Surviving entries keep their relative order. It returns the
// name of the removed entry.
func (db *DB) Remove(index int) (string, error) {
	idx := db.liveSlot(index)
	if idx < 0 {
		return "", fmt.Errorf("%w: index %d", ErrNotFound, index)
	}

	prev := db.slots[idx]
	defer prev.wipe()
	db.slots[idx].wipe()
	db.live--

	if err := db.Persist(); err != nil {
		db.slots[idx] = prev
		db.live++
		return "", err
	}
	return text(prev.Name[:]), nil
}

// Query returns the live entries whose name or login contains filter,
// ignoring case. An empty filter matches every live entry.
func (db *DB) Query(filter string) []Entry {
	lower := asciiLower([]byte(filter))
	var out []Entry
	for i := range db.slots {
		e := &db.slots[i]
		if e.IsTombstone() {
			continue
		}
		if len(lower) == 0 || e.matches(lower) {
			out = append(out, *e)
		}
	}
	return out
}

// All returns every live entry in storage order.
func (db *DB) All() []Entry {
	return db.Query("")
}

// Persist writes the database to a temporary file next to the target and
// renames it into place. The target is replaced whole or not at all.
func (db *DB) Persist() error {
	tmp, err := os.CreateTemp(filepath.Dir(db.path), ".opm.")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(fileMode); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	img := encode(&db.header, db.slots)
	err = db.sealer.Seal(tmp, img)
	cipher.Wipe(img)
	if err != nil {
		return fmt.Errorf("%w: writing database: %w", ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: syncing database: %w", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing database: %w", ErrIO, err)
	}
	if err := rename(tmpPath, db.path); err != nil {
		return fmt.Errorf("%w: replacing database: %w", ErrIO, err)
	}
	committed = true
	return nil
}

// Close wipes the decrypted table and key material.
func (db *DB) Close() {
	for i := range db.slots {
		db.slots[i].wipe()
	}
	db.slots = nil
	db.live = 0
	db.sealer.Close()
}

func (db *DB) freeSlot() int {
	for i := range db.slots {
		if db.slots[i].IsTombstone() {
			return i
		}
	}
	return -1
}

func (db *DB) liveSlot(index int) int {
	if index < 1 {
		return -1
	}
	n := 0
	for i := range db.slots {
		if db.slots[i].IsTombstone() {
			continue
		}
		n++
		if n == index {
			return i
		}
	}
	return -1
}
