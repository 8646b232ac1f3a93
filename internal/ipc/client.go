package ipc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/benaskins/opm/internal/store"
)

// DefaultSocket is the abstract-namespace socket the daemon listens on.
const DefaultSocket = "@/com/opm/opmsock"

const (
	readyInterval = 100 * time.Millisecond
	readyAttempts = 10
)

// ErrNotRunning is returned by WaitReady when no daemon answers in time.
var ErrNotRunning = errors.New("ipc: daemon is not running")

// Client issues one request per connection, the way the daemon expects.
type Client struct {
	socket string
}

// NewClient returns a client for the daemon listening on socket.
func NewClient(socket string) *Client {
	return &Client{socket: socket}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.Dial("unix", c.socket)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}
	return conn, nil
}

// Running reports whether a daemon accepts connections on the socket.
func (c *Client) Running() bool {
	conn, err := c.dial()
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitReady polls the socket until the daemon accepts a connection.
func (c *Client) WaitReady(ctx context.Context) error {
	lim := rate.NewLimiter(rate.Every(readyInterval), 1)
	for i := 0; i < readyAttempts; i++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		if c.Running() {
			return nil
		}
	}
	return ErrNotRunning
}

func (c *Client) control(p Parcel) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := WriteParcel(conn, p); err != nil {
		return fmt.Errorf("sending %s: %w", p.Kind, err)
	}
	return ReadMarker(conn)
}

func (c *Client) data(p Parcel) ([]store.Entry, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := WriteParcel(conn, p); err != nil {
		return nil, fmt.Errorf("sending %s: %w", p.Kind, err)
	}
	body, err := ReadFrame(conn, MaxReplyLen)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrFailed
		}
		return nil, err
	}
	entries, err := store.DecodeEntries(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadReply, err)
	}
	return entries, nil
}

// Add stores a new entry.
func (c *Client) Add(e store.Entry) error {
	body, _ := e.MarshalBinary()
	return c.control(Parcel{Kind: KindAddEntry, Payload: body})
}

// Remove deletes the index'th entry of the current listing, counting from 1.
func (c *Client) Remove(index int) error {
	var body [4]byte
	binary.LittleEndian.PutUint32(body[:], uint32(int32(index)))
	return c.control(Parcel{Kind: KindRemoveEntry, Payload: body[:]})
}

// Query returns the entries whose name or login contains filter.
func (c *Client) Query(filter string) ([]store.Entry, error) {
	p := Parcel{Kind: KindGetEntry}
	if filter != "" {
		p.Payload = append([]byte(filter), 0)
	}
	return c.data(p)
}

// All returns every entry.
func (c *Client) All() ([]store.Entry, error) {
	return c.data(Parcel{Kind: KindGetAll})
}

// Copy hands secret to the daemon's clipboard helper.
func (c *Client) Copy(secret []byte) error {
	payload := make([]byte, len(secret)+1)
	copy(payload, secret)
	defer clear(payload)
	return c.control(Parcel{Kind: KindCopy, Payload: payload})
}

// Stop asks the daemon to exit. A daemon that closes the connection
// without replying has still stopped.
func (c *Client) Stop() error {
	err := c.control(Parcel{Kind: KindStop})
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
