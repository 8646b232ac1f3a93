package clipboard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxSecretLen bounds one message on the private pipe.
const MaxSecretLen = 64

var (
	ErrSecretTooLarge = errors.New("clipboard: secret exceeds maximum length")
	ErrEmptySecret    = errors.New("clipboard: empty secret")
	ErrUnavailable    = errors.New("clipboard: helper is not running")
)

// WriteSecret frames secret onto the pipe in a single write.
func WriteSecret(w io.Writer, secret []byte) error {
	if len(secret) == 0 {
		return ErrEmptySecret
	}
	if len(secret) > MaxSecretLen {
		return ErrSecretTooLarge
	}
	buf := make([]byte, 4+len(secret))
	defer clear(buf)
	binary.LittleEndian.PutUint32(buf, uint32(len(secret)))
	copy(buf[4:], secret)
	_, err := w.Write(buf)
	return err
}

// ReadSecret reads one pipe message. An oversized message is consumed and
// dropped without being buffered, and ErrSecretTooLarge returned so the
// reader stays in sync with the stream.
func ReadSecret(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxSecretLen {
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d bytes", ErrSecretTooLarge, n)
	}
	secret := make([]byte, n)
	if _, err := io.ReadFull(r, secret); err != nil {
		clear(secret)
		return nil, err
	}
	return secret, nil
}

// Forwarder is the dispatcher's end of the private pipe.
type Forwarder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewForwarder returns a Forwarder writing to w.
func NewForwarder(w io.Writer) *Forwarder {
	return &Forwarder{w: w}
}

// Copy sends secret to the helper.
func (f *Forwarder) Copy(secret []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return ErrUnavailable
	}
	return WriteSecret(f.w, secret)
}

// Disable makes every later Copy fail with ErrUnavailable.
func (f *Forwarder) Disable() {
	f.mu.Lock()
	f.w = nil
	f.mu.Unlock()
}
