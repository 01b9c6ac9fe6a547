package server

import (
	"fmt"
	"github.com/ValentinKolb/uio/ipc/codec"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/transport"
	"golang.org/x/sys/unix"
	"os"
	"sync"
)

// ConnState is the application state of a connection
type ConnState int

const (
	// StateUnknown means the client has not identified itself yet
	StateUnknown ConnState = iota
	// StateAnnounced means the client announced itself by name
	StateAnnounced
)

// String returns the string representation of a ConnState
func (s ConnState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateAnnounced:
		return "announced"
	default:
		return "invalid"
	}
}

// Connection is one accepted client. The channel is read only by the owner of the
// connection (the event loop or the connection goroutine); writes and close are
// serialized by a mutex so a dispatcher may send while the owner tears down.
type Connection struct {
	id      int
	channel transport.IChannel
	codec   *codec.PacketCodec

	// guards channel writes and close
	mu     sync.Mutex
	closed bool

	// application state, owned by the goroutine that runs the request handler
	state ConnState
	name  string
}

func newConnection(ch transport.IChannel, c *codec.PacketCodec) *Connection {
	return &Connection{
		id:      ch.Fd(),
		channel: ch,
		codec:   c,
		state:   StateUnknown,
	}
}

// ID returns the connection identity, the native descriptor number
func (c *Connection) ID() int {
	return c.id
}

// State returns the application state of the connection
func (c *Connection) State() ConnState {
	return c.state
}

// Name returns the announced name, empty until the client announced itself
func (c *Connection) Name() string {
	return c.name
}

// Announce moves the connection from StateUnknown to StateAnnounced
func (c *Connection) Announce(name string) error {
	if name == "" {
		return &transport.ProtocolError{Op: "announce", Reason: "empty client name"}
	}
	if c.state != StateUnknown {
		return &transport.ProtocolError{
			Op:     "announce",
			Reason: fmt.Sprintf("client %s announced itself again as %s", c.name, name),
		}
	}
	c.state = StateAnnounced
	c.name = name
	return nil
}

// Send encodes evt and writes it together with caps. caps stay owned by the caller.
func (c *Connection) Send(evt common.Event, caps []*os.File) error {
	p, err := c.codec.EncodeEvent(evt, caps)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return c.channel.WritePacket(p)
}

// Close releases the channel. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.channel.Close()
}

// shutdown ends both directions of the socket without releasing the descriptor.
// The owner then sees a hang up and performs the actual teardown.
func (c *Connection) shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if err := unix.Shutdown(c.id, unix.SHUT_RDWR); err != nil && err != unix.ENOTCONN {
		return fmt.Errorf("failed to shut down connection %d: %w", c.id, err)
	}
	return nil
}

// readPackets performs one receive step; only the owner of the connection may call it
func (c *Connection) readPackets() ([]transport.Packet, error) {
	return c.channel.ReadPackets()
}
