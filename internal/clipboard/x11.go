package clipboard

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// ErrNoDisplay is returned by OpenX11 when the X server cannot be reached.
var ErrNoDisplay = errors.New("clipboard: cannot open display")

// X11 owns the CLIPBOARD selection through a hidden window.
type X11 struct {
	conn      *xgb.Conn
	win       xproto.Window
	clipboard xproto.Atom
	targets   xproto.Atom
	requests  chan Request
	logger    *slog.Logger
}

// OpenX11 connects to the display named by $DISPLAY, creates the window
// that will own the selection and starts delivering requests.
func OpenX11() (*X11, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoDisplay, err)
	}
	x := &X11{
		conn:     conn,
		requests: make(chan Request, 16),
		logger:   slog.With("component", "x11"),
	}
	if err := x.setup(); err != nil {
		conn.Close()
		return nil, err
	}
	go x.pump()
	return x, nil
}

func (x *X11) setup() error {
	screen := xproto.Setup(x.conn).DefaultScreen(x.conn)

	win, err := xproto.NewWindowId(x.conn)
	if err != nil {
		return fmt.Errorf("allocating window id: %w", err)
	}
	err = xproto.CreateWindowChecked(x.conn, screen.RootDepth, win, screen.Root,
		0, 0, 1, 1, 0, xproto.WindowClassInputOutput, screen.RootVisual, 0, nil).Check()
	if err != nil {
		return fmt.Errorf("creating window: %w", err)
	}
	x.win = win

	if x.clipboard, err = x.atom("CLIPBOARD"); err != nil {
		return err
	}
	if x.targets, err = x.atom("TARGETS"); err != nil {
		return err
	}
	return nil
}

func (x *X11) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(x.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return xproto.AtomNone, fmt.Errorf("interning %s: %w", name, err)
	}
	return reply.Atom, nil
}

// pump turns X events into requests until the connection closes.
func (x *X11) pump() {
	defer close(x.requests)
	for {
		ev, xerr := x.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			return
		}
		if xerr != nil {
			x.logger.Warn("x11 error", "error", xerr)
			continue
		}
		switch e := ev.(type) {
		case xproto.SelectionRequestEvent:
			if e.Selection != x.clipboard {
				x.refuse(e)
				continue
			}
			x.requests <- Request{Targets: e.Target == x.targets, native: e}
		case xproto.SelectionClearEvent:
			x.logger.Debug("clipboard ownership lost")
		}
	}
}

func (x *X11) Own() error {
	err := xproto.SetSelectionOwnerChecked(x.conn, x.win, x.clipboard, xproto.TimeCurrentTime).Check()
	if err != nil {
		return fmt.Errorf("setting selection owner: %w", err)
	}
	reply, err := xproto.GetSelectionOwner(x.conn, x.clipboard).Reply()
	if err != nil {
		return fmt.Errorf("querying selection owner: %w", err)
	}
	if reply.Owner != x.win {
		return errors.New("clipboard: another client kept the selection")
	}
	return nil
}

func (x *X11) Requests() <-chan Request {
	return x.requests
}

func (x *X11) ReplyTargets(req Request) error {
	e, ok := req.native.(xproto.SelectionRequestEvent)
	if !ok {
		return fmt.Errorf("clipboard: foreign request %T", req.native)
	}
	n, data := targetsPayload(x.targets)
	return x.reply(e, xproto.AtomAtom, 32, n, data)
}

// targetsPayload encodes the formats offered: TARGETS itself and STRING.
// It returns the atom count and their 32-bit wire encoding.
func targetsPayload(targets xproto.Atom) (uint32, []byte) {
	atoms := []xproto.Atom{targets, xproto.AtomString}
	data := make([]byte, 4*len(atoms))
	for i, a := range atoms {
		xgb.Put32(data[4*i:], uint32(a))
	}
	return uint32(len(atoms)), data
}

func (x *X11) ReplyText(req Request, text []byte) error {
	e, ok := req.native.(xproto.SelectionRequestEvent)
	if !ok {
		return fmt.Errorf("clipboard: foreign request %T", req.native)
	}
	return x.reply(e, xproto.AtomString, 8, uint32(len(text)), text)
}

// reply stores data on the requestor's property and notifies it. Requests
// from obsolete clients name no property; the target is used instead.
func (x *X11) reply(e xproto.SelectionRequestEvent, typ xproto.Atom, format byte, n uint32, data []byte) error {
	property := e.Property
	if property == xproto.AtomNone {
		property = e.Target
	}
	err := xproto.ChangePropertyChecked(x.conn, xproto.PropModeReplace, e.Requestor,
		property, typ, format, n, data).Check()
	if err != nil {
		x.refuse(e)
		return fmt.Errorf("writing selection property: %w", err)
	}
	return x.notify(e, property)
}

func (x *X11) refuse(e xproto.SelectionRequestEvent) {
	if err := x.notify(e, xproto.AtomNone); err != nil {
		x.logger.Warn("refusing selection request", "error", err)
	}
}

func (x *X11) notify(e xproto.SelectionRequestEvent, property xproto.Atom) error {
	ev := xproto.SelectionNotifyEvent{
		Time:      e.Time,
		Requestor: e.Requestor,
		Selection: e.Selection,
		Target:    e.Target,
		Property:  property,
	}
	return xproto.SendEventChecked(x.conn, false, e.Requestor, xproto.EventMaskNoEvent, string(ev.Bytes())).Check()
}

func (x *X11) Close() error {
	x.conn.Close()
	return nil
}
