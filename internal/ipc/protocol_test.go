package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestParcelRoundTrip(t *testing.T) {
	for _, p := range []Parcel{
		{Kind: KindGetAll},
		{Kind: KindGetEntry, Payload: []byte("git\x00")},
		{Kind: KindAddEntry, Payload: bytes.Repeat([]byte{0xAB}, 640)},
		{Kind: KindCopy, Payload: bytes.Repeat([]byte{'x'}, MaxParcelLen)},
	} {
		var buf bytes.Buffer
		if err := WriteParcel(&buf, p); err != nil {
			t.Fatalf("WriteParcel(%s): %v", p.Kind, err)
		}
		if buf.Len() != headerLen+len(p.Payload) {
			t.Errorf("expected %d bytes on the wire, got %d", headerLen+len(p.Payload), buf.Len())
		}
		got, err := ReadParcel(&buf)
		if err != nil {
			t.Fatalf("ReadParcel(%s): %v", p.Kind, err)
		}
		if got.Kind != p.Kind {
			t.Errorf("expected kind %s, got %s", p.Kind, got.Kind)
		}
		if !bytes.Equal(got.Payload, p.Payload) {
			t.Errorf("%s: payload mismatch", p.Kind)
		}
	}
}

func TestWriteParcelTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := WriteParcel(&buf, Parcel{Kind: KindCopy, Payload: make([]byte, MaxParcelLen+1)})
	if !errors.Is(err, ErrParcelTooLarge) {
		t.Fatalf("expected ErrParcelTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written, got %d bytes", buf.Len())
	}
}

// header builds a raw parcel header without a payload.
func header(kind, n uint32) []byte {
	var h [headerLen]byte
	binary.LittleEndian.PutUint32(h[0:4], kind)
	binary.LittleEndian.PutUint32(h[4:8], n)
	return h[:]
}

func TestReadParcelRejectsOversizedLength(t *testing.T) {
	// Only the header is present; an implementation that allocated and
	// read the payload would report an unexpected EOF instead.
	_, err := ReadParcel(bytes.NewReader(header(uint32(KindGetAll), 0xFFFFFFFF)))
	if !errors.Is(err, ErrParcelTooLarge) {
		t.Fatalf("expected ErrParcelTooLarge, got %v", err)
	}
}

func TestReadParcelRejectsUnknownKind(t *testing.T) {
	for _, kind := range []uint32{uint32(kindMax), 99, 0xFFFFFFFF} {
		_, err := ReadParcel(bytes.NewReader(header(kind, 0)))
		if !errors.Is(err, ErrUnknownKind) {
			t.Errorf("kind %d: expected ErrUnknownKind, got %v", kind, err)
		}
	}
}

func TestReadParcelShortPayload(t *testing.T) {
	raw := append(header(uint32(KindGetEntry), 10), "abc"...)
	_, err := ReadParcel(bytes.NewReader(raw))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadParcelEOF(t *testing.T) {
	_, err := ReadParcel(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestMarkers(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMarker(&buf, true); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}
	if buf.String() != "OK" {
		t.Errorf("expected OK, got %q", buf.String())
	}
	if err := ReadMarker(&buf); err != nil {
		t.Errorf("expected nil for OK, got %v", err)
	}

	buf.Reset()
	WriteMarker(&buf, false)
	if buf.String() != "ER" {
		t.Errorf("expected ER, got %q", buf.String())
	}
	if err := ReadMarker(&buf); !errors.Is(err, ErrFailed) {
		t.Errorf("expected ErrFailed for ER, got %v", err)
	}

	if err := ReadMarker(bytes.NewReader([]byte("??"))); !errors.Is(err, ErrBadReply) {
		t.Errorf("expected ErrBadReply, got %v", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("abc"), nil, []byte("defg")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if buf.Len() != 4+7 {
		t.Errorf("expected 11 bytes, got %d", buf.Len())
	}
	body, err := ReadFrame(&buf, 100)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(body) != "abcdefg" {
		t.Errorf("expected abcdefg, got %q", body)
	}
}

func TestEmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf)
	body, err := ReadFrame(&buf, 100)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("expected empty body, got %d bytes", len(body))
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, make([]byte, 101))
	if _, err := ReadFrame(&buf, 100); !errors.Is(err, ErrReplyTooLarge) {
		t.Fatalf("expected ErrReplyTooLarge, got %v", err)
	}
}

func TestKindString(t *testing.T) {
	if KindGetEntry.String() != "get-entry" {
		t.Errorf("expected get-entry, got %s", KindGetEntry)
	}
	if Kind(42).String() != "kind(42)" {
		t.Errorf("expected kind(42), got %s", Kind(42))
	}
}
