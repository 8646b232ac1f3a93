// Package clipboard is the privilege-separated helper that owns the X11
// CLIPBOARD selection on the daemon's behalf.
//
// The helper runs as its own process. It learns secrets only from the
// private pipe the dispatcher writes to, keeps at most one of them in
// memory, and answers selection requests from other X clients with it. It
// never opens the database.
package clipboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// ExitNoDisplay is the helper's exit status when the windowing system
// cannot be reached at startup.
const ExitNoDisplay = 3

// Request is one selection request from another client.
type Request struct {
	// Targets is set when the requestor asks which formats are offered.
	Targets bool

	// native carries the windowing-system event the request came from.
	native any
}

// Selection is the windowing-system side of the helper.
type Selection interface {
	// Own asserts ownership of the clipboard selection.
	Own() error

	// Requests delivers selection requests in arrival order. It is closed
	// when the connection to the windowing system is lost.
	Requests() <-chan Request

	// ReplyTargets answers req with the list of supported formats.
	ReplyTargets(req Request) error

	// ReplyText answers req with data as plain text.
	ReplyText(req Request, data []byte) error

	Close() error
}

// ErrConnectionLost is returned by Run when the selection's request stream
// ends.
var ErrConnectionLost = errors.New("clipboard: windowing system connection lost")

// Helper holds the current secret and serves it through a Selection.
type Helper struct {
	sel    Selection
	secret []byte
	logger *slog.Logger
}

// NewHelper returns a helper serving through sel.
func NewHelper(sel Selection) *Helper {
	return &Helper{
		sel:    sel,
		logger: slog.With("component", "clipboard"),
	}
}

// Run services the pipe and the selection until ctx is cancelled, the pipe
// reaches EOF, or the selection connection is lost. Events are handled one
// at a time in the order they arrive.
func (h *Helper) Run(ctx context.Context, pipe io.Reader) error {
	defer h.forget()

	done := make(chan struct{})
	defer close(done)
	secrets := make(chan []byte)
	go h.readPipe(pipe, secrets, done)

	requests := h.sel.Requests()
	for {
		select {
		case <-ctx.Done():
			return nil

		case s, ok := <-secrets:
			if !ok {
				h.logger.Info("pipe closed, exiting")
				return nil
			}
			h.store(s)
			if err := h.sel.Own(); err != nil {
				h.logger.Warn("cannot take clipboard ownership", "error", err)
			}

		case req, ok := <-requests:
			if !ok {
				return ErrConnectionLost
			}
			h.answer(req)
			if !h.drain(requests) {
				return ErrConnectionLost
			}
		}
	}
}

// drain answers every request already queued. It returns false if the
// request stream closed.
func (h *Helper) drain(requests <-chan Request) bool {
	for {
		select {
		case req, ok := <-requests:
			if !ok {
				return false
			}
			h.answer(req)
		default:
			return true
		}
	}
}

func (h *Helper) answer(req Request) {
	if len(h.secret) == 0 {
		return
	}
	var err error
	if req.Targets {
		err = h.sel.ReplyTargets(req)
	} else {
		err = h.sel.ReplyText(req, h.secret)
	}
	if err != nil {
		h.logger.Warn("selection reply failed", "error", err)
	}
}

func (h *Helper) store(secret []byte) {
	h.forget()
	h.secret = secret
}

func (h *Helper) forget() {
	clear(h.secret)
	h.secret = nil
}

func (h *Helper) readPipe(r io.Reader, out chan<- []byte, done <-chan struct{}) {
	defer close(out)
	for {
		secret, err := ReadSecret(r)
		if errors.Is(err, ErrSecretTooLarge) {
			h.logger.Warn("dropping oversized message", "error", err)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Warn("pipe read failed", "error", err)
			}
			return
		}
		if len(secret) == 0 {
			continue
		}
		select {
		case out <- secret:
		case <-done:
			clear(secret)
			return
		}
	}
}
