package daemon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/benaskins/opm/internal/audit"
	"github.com/benaskins/opm/internal/clipboard"
	"github.com/benaskins/opm/internal/ipc"
	"github.com/benaskins/opm/internal/store"
)

var errBadPayload = errors.New("daemon: malformed payload")

// A handler answers one parcel kind. Control handlers produce an OK or ER
// marker; data handlers produce a frame of entries. The after hook, if set,
// runs once the reply has been written.
type handler struct {
	control func(payload []byte) error
	data    func(payload []byte) ([]store.Entry, error)
	after   func()
}

func (d *Daemon) routes() map[ipc.Kind]handler {
	return map[ipc.Kind]handler{
		ipc.KindAddEntry:    {control: d.addEntry},
		ipc.KindRemoveEntry: {control: d.removeEntry},
		ipc.KindGetEntry:    {data: d.getEntry},
		ipc.KindGetAll:      {data: d.getAll},
		ipc.KindCopy:        {control: d.copySecret},
		ipc.KindStop:        {control: func([]byte) error { return nil }, after: d.Stop},
	}
}

// handle serves one connection: one parcel in, at most one reply out.
// Protocol errors close the connection without a reply.
func (d *Daemon) handle(conn net.Conn) {
	defer conn.Close()

	p, err := ipc.ReadParcel(conn)
	if errors.Is(err, io.EOF) {
		// Liveness checks connect and hang up without sending anything.
		d.logger.Debug("connection closed without a request")
		return
	}
	if err != nil {
		d.logger.Warn("rejecting request", "error", err)
		return
	}
	defer clear(p.Payload)

	h, ok := d.handlers[p.Kind]
	if !ok {
		d.logger.Warn("rejecting request", "kind", p.Kind)
		return
	}
	d.logger.Debug("request", "kind", p.Kind, "len", len(p.Payload))

	switch {
	case h.control != nil:
		err := h.control(p.Payload)
		if err != nil {
			d.logger.Warn("request failed", "kind", p.Kind, "error", err)
		}
		if werr := ipc.WriteMarker(conn, err == nil); werr != nil {
			d.logger.Warn("writing reply", "kind", p.Kind, "error", werr)
		}
	case h.data != nil:
		entries, err := h.data(p.Payload)
		if err != nil {
			d.logger.Warn("request failed", "kind", p.Kind, "error", err)
			return
		}
		body := store.EncodeEntries(entries)
		store.Wipe(entries)
		if werr := ipc.WriteFrame(conn, body); werr != nil {
			d.logger.Warn("writing reply", "kind", p.Kind, "error", werr)
		}
		clear(body)
	}

	if h.after != nil {
		h.after()
	}
}

func (d *Daemon) addEntry(payload []byte) error {
	if len(payload) != store.EntrySize {
		return fmt.Errorf("%w: entry is %d bytes", errBadPayload, len(payload))
	}
	batch, err := store.DecodeEntries(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", errBadPayload, err)
	}
	defer store.Wipe(batch)

	name := batch[0].Label()
	d.markPersist()
	err = d.db.Add(batch[0])
	d.markPersist()

	d.record(audit.Entry{Action: audit.ActionEntryAdd, Name: name}, err)
	if err != nil {
		return fmt.Errorf("adding %q: %w", name, err)
	}
	d.logger.Info("entry added", "name", name, "entries", d.db.Len())
	return nil
}

func (d *Daemon) removeEntry(payload []byte) error {
	if len(payload) != 4 {
		return fmt.Errorf("%w: index is %d bytes", errBadPayload, len(payload))
	}
	index := int(int32(binary.LittleEndian.Uint32(payload)))

	d.markPersist()
	name, err := d.db.Remove(index)
	d.markPersist()

	d.record(audit.Entry{Action: audit.ActionEntryRemove, Name: name, Index: index}, err)
	if err != nil {
		return fmt.Errorf("removing entry %d: %w", index, err)
	}
	d.logger.Info("entry removed", "name", name, "entries", d.db.Len())
	return nil
}

func (d *Daemon) getEntry(payload []byte) ([]store.Entry, error) {
	entries := d.db.Query(cstring(payload))
	d.record(audit.Entry{Action: audit.ActionEntryQuery, Matches: audit.Count(len(entries))}, nil)
	return entries, nil
}

func (d *Daemon) getAll([]byte) ([]store.Entry, error) {
	entries := d.db.All()
	d.record(audit.Entry{Action: audit.ActionEntryQuery, Matches: audit.Count(len(entries))}, nil)
	return entries, nil
}

func (d *Daemon) copySecret(payload []byte) error {
	secret := payload
	if i := bytes.IndexByte(secret, 0); i >= 0 {
		secret = secret[:i]
	}

	var err error
	switch {
	case len(secret) == 0:
		err = clipboard.ErrEmptySecret
	case len(secret) > clipboard.MaxSecretLen:
		err = clipboard.ErrSecretTooLarge
	case d.clip == nil:
		err = clipboard.ErrUnavailable
	default:
		err = d.clip.Copy(secret)
	}
	d.record(audit.Entry{Action: audit.ActionClipboardCopy}, err)
	return err
}

func (d *Daemon) record(e audit.Entry, err error) {
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := d.audit.Log(e); aerr != nil {
		d.logger.Warn("audit log write failed", "error", aerr)
	}
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
