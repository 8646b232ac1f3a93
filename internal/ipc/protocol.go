// Package ipc implements the framing spoken between opm clients and the
// daemon over the local socket.
//
// A request (parcel) is a 4-byte kind, a 4-byte payload length and the
// payload, all little-endian. Control replies are the two bytes "OK" or
// "ER". Data replies are a single 4-byte length followed by that many bytes
// of concatenated entry records, with no marker after them.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind identifies the operation a parcel requests.
type Kind uint32

const (
	KindNone Kind = iota
	KindAddEntry
	KindRemoveEntry
	KindGetEntry
	KindGetAll
	KindReply
	KindStop
	KindCopy
	kindMax
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAddEntry:
		return "add-entry"
	case KindRemoveEntry:
		return "remove-entry"
	case KindGetEntry:
		return "get-entry"
	case KindGetAll:
		return "get-all"
	case KindReply:
		return "reply"
	case KindStop:
		return "stop"
	case KindCopy:
		return "copy"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

const (
	// MaxParcelLen bounds a request payload.
	MaxParcelLen = 32768

	// MaxReplyLen bounds a data reply accepted by the client.
	MaxReplyLen = 16 << 20

	headerLen = 8
)

var (
	ErrParcelTooLarge = errors.New("ipc: parcel exceeds maximum length")
	ErrUnknownKind    = errors.New("ipc: unknown parcel kind")
	ErrReplyTooLarge  = errors.New("ipc: reply exceeds maximum length")
	ErrBadReply       = errors.New("ipc: malformed reply")
	ErrFailed         = errors.New("ipc: daemon reported failure")
)

var (
	markerOK = []byte("OK")
	markerER = []byte("ER")
)

// Parcel is one framed request.
type Parcel struct {
	Kind    Kind
	Payload []byte
}

// WriteParcel frames p onto w in a single write.
func WriteParcel(w io.Writer, p Parcel) error {
	if len(p.Payload) > MaxParcelLen {
		return ErrParcelTooLarge
	}
	buf := make([]byte, headerLen+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Kind))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(p.Payload)))
	copy(buf[headerLen:], p.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadParcel reads one request. The length and kind are validated before
// any payload is read or allocated.
func ReadParcel(r io.Reader) (Parcel, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Parcel{}, err
	}
	kind := Kind(binary.LittleEndian.Uint32(hdr[0:4]))
	n := binary.LittleEndian.Uint32(hdr[4:8])

	if n > MaxParcelLen {
		return Parcel{}, fmt.Errorf("%w: %d bytes", ErrParcelTooLarge, n)
	}
	if kind >= kindMax {
		return Parcel{}, fmt.Errorf("%w: %d", ErrUnknownKind, uint32(kind))
	}

	p := Parcel{Kind: kind}
	if n > 0 {
		p.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, p.Payload); err != nil {
			return Parcel{}, fmt.Errorf("ipc: reading payload: %w", err)
		}
	}
	return p, nil
}

// WriteMarker writes "OK" when ok is true, otherwise "ER".
func WriteMarker(w io.Writer, ok bool) error {
	m := markerER
	if ok {
		m = markerOK
	}
	_, err := w.Write(m)
	return err
}

// ReadMarker reads a control reply. It returns nil for "OK" and ErrFailed
// for "ER".
func ReadMarker(r io.Reader) error {
	var m [2]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return err
	}
	switch string(m[:]) {
	case string(markerOK):
		return nil
	case string(markerER):
		return ErrFailed
	}
	return fmt.Errorf("%w: marker %q", ErrBadReply, m[:])
}

// WriteFrame writes a data reply: the total length of chunks, then each
// chunk in order.
func WriteFrame(w io.Writer, chunks ...[]byte) error {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(total))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, c := range chunks {
		if _, err := w.Write(c); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads a data reply of at most max bytes.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if uint64(n) > uint64(max) {
		return nil, fmt.Errorf("%w: %d bytes", ErrReplyTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("ipc: reading reply: %w", err)
	}
	return buf, nil
}
