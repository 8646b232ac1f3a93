package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Field sizes of one entry record. Each holds at most size-1 bytes of value
// so the stored field is always NUL terminated.
const (
	NameSize     = 128
	URLSize      = 128
	LoginSize    = 64
	PasswordSize = 64
	NotesSize    = 256

	// EntrySize is the encoded size of one Entry.
	EntrySize = NameSize + URLSize + LoginSize + PasswordSize + NotesSize
)

// Entry is one fixed-size credential record as stored on disk and sent over
// the socket. An Entry whose name starts with a NUL byte is a tombstone.
type Entry struct {
	Name     [NameSize]byte
	URL      [URLSize]byte
	Login    [LoginSize]byte
	Password [PasswordSize]byte
	Notes    [NotesSize]byte
}

// Fields is the variable-length view of an Entry.
type Fields struct {
	Name     string
	URL      string
	Login    string
	Password string
	Notes    string
}

// NewEntry packs f into a record. It fails if a value does not fit its field.
func NewEntry(f Fields) (Entry, error) {
	var e Entry
	for _, fld := range []struct {
		name string
		dst  []byte
		val  string
	}{
		{"name", e.Name[:], f.Name},
		{"url", e.URL[:], f.URL},
		{"login", e.Login[:], f.Login},
		{"password", e.Password[:], f.Password},
		{"notes", e.Notes[:], f.Notes},
	} {
		if len(fld.val) >= len(fld.dst) {
			return Entry{}, fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidEntry, fld.name, len(fld.dst)-1)
		}
		copy(fld.dst, fld.val)
	}
	return e, nil
}

// Fields unpacks the record.
func (e *Entry) Fields() Fields {
	return Fields{
		Name:     text(e.Name[:]),
		URL:      text(e.URL[:]),
		Login:    text(e.Login[:]),
		Password: text(e.Password[:]),
		Notes:    text(e.Notes[:]),
	}
}

// Label returns the entry name.
func (e *Entry) Label() string {
	return text(e.Name[:])
}

// IsTombstone reports whether the slot is a deleted entry.
func (e *Entry) IsTombstone() bool {
	return e.Name[0] == 0
}

// Secret returns the password bytes up to the first NUL. The slice aliases
// the entry.
func (e *Entry) Secret() []byte {
	return cstr(e.Password[:])
}

// MarshalBinary encodes the record in its fixed disk and wire layout.
func (e *Entry) MarshalBinary() ([]byte, error) {
	return EncodeEntries([]Entry{*e}), nil
}

// UnmarshalBinary decodes one EntrySize record.
func (e *Entry) UnmarshalBinary(b []byte) error {
	if len(b) != EntrySize {
		return fmt.Errorf("%w: record is %d bytes", ErrInvalidEntry, len(b))
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, e)
}

// EncodeEntries concatenates records.
func EncodeEntries(entries []Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(len(entries) * EntrySize)
	_ = binary.Write(&buf, binary.LittleEndian, entries)
	return buf.Bytes()
}

// DecodeEntries splits a concatenation of records.
func DecodeEntries(b []byte) ([]Entry, error) {
	if len(b)%EntrySize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of records", ErrInvalidEntry, len(b))
	}
	entries := make([]Entry, len(b)/EntrySize)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (e *Entry) matches(lowerFilter []byte) bool {
	return bytes.Contains(asciiLower(cstr(e.Name[:])), lowerFilter) ||
		bytes.Contains(asciiLower(cstr(e.Login[:])), lowerFilter)
}

// asciiLower folds A-Z only; other bytes, UTF-8 included, compare exactly.
func asciiLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// wipe zeroes the whole slot, leaving a tombstone with no residual data.
func (e *Entry) wipe() {
	*e = Entry{}
}

// Wipe zeroes every entry in entries.
func Wipe(entries []Entry) {
	for i := range entries {
		entries[i].wipe()
	}
}

func cstr(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}

func text(b []byte) string {
	return string(cstr(b))
}
