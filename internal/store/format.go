package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// Signature opens every decrypted database image.
	Signature = "OPMDBDEX"

	// Version is the newest format this build reads and the one it writes.
	Version = 0x101

	reservedSize = 16384

	// HeaderSize is the encoded size of Header.
	HeaderSize = 8 + 4 + 4 + 4 + reservedSize
)

// Header is the fixed-layout record at the start of a database image.
// Count is the number of entry slots that follow, tombstones included.
type Header struct {
	Signature [8]byte
	Version   uint32
	Count     uint32
	EntrySize uint32
	Reserved  [reservedSize]byte
}

func newHeader() Header {
	h := Header{Version: Version, EntrySize: EntrySize}
	copy(h.Signature[:], Signature)
	return h
}

// encode serializes the header and slots into one image.
func encode(h *Header, slots []Entry) []byte {
	h.Count = uint32(len(slots))
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(slots)*EntrySize)
	// Writes to a bytes.Buffer of fixed-size values cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, h)
	_ = binary.Write(&buf, binary.LittleEndian, slots)
	return buf.Bytes()
}

// decode validates a decrypted image and splits it into header and slots.
// Checks run in a fixed order: signature, size, count, version.
func decode(img []byte) (Header, []Entry, error) {
	var h Header
	if len(img) < len(Signature) || !bytes.Equal(img[:len(Signature)], []byte(Signature)) {
		return h, nil, ErrBadKeyOrCorrupt
	}
	if len(img) < HeaderSize {
		return h, nil, fmt.Errorf("%w: image shorter than header", ErrCorrupt)
	}
	if err := binary.Read(bytes.NewReader(img[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	body := img[HeaderSize:]
	if len(body)%EntrySize != 0 {
		return h, nil, fmt.Errorf("%w: trailing %d bytes", ErrCorrupt, len(body)%EntrySize)
	}
	n := len(body) / EntrySize
	if int(h.Count) != n {
		return h, nil, fmt.Errorf("%w: header counts %d entries, image holds %d", ErrCorrupt, h.Count, n)
	}
	if h.Version > Version {
		return h, nil, fmt.Errorf("%w: version %#x", ErrUnsupportedVersion, h.Version)
	}

	slots := make([]Entry, n)
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, slots); err != nil {
		return h, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return h, slots, nil
}
