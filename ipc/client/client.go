package client

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/codec"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/poll"
	"github.com/ValentinKolb/uio/ipc/serializer"
	"github.com/ValentinKolb/uio/ipc/transport"
	"github.com/ValentinKolb/uio/ipc/transport/uds"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"math/rand"
	"os"
	"time"
)

// Logger is the logger of the client
var Logger = logger.GetLogger("client")

var (
	// ErrTimeout is returned when no event arrived in time
	ErrTimeout = errors.New("timed out waiting for the server")
	// ErrChannelClosed is returned once the server closed the connection
	ErrChannelClosed = errors.New("connection closed by server")
	// ErrChannelBroken is returned when the socket reports an error condition
	ErrChannelBroken = errors.New("connection broken")
	// ErrUnexpectedEvent is returned when the server answers with an event the client did not expect
	ErrUnexpectedEvent = errors.New("unexpected event")
)

// channelKey is the only key registered in the client multiplexer
const channelKey uint64 = 1

// Client is one connection to a uio server. A Client is not safe for concurrent use.
type Client struct {
	config  common.ClientConfig
	codec   *codec.PacketCodec
	channel transport.IChannel
	mux     *poll.Multiplexer[uint64]

	// packets read but not returned by Next yet
	pending []transport.Packet
	closed  bool
}

// Dial connects to the server at config.SocketPath. Failed attempts are retried
// config.RetryCount times with exponential backoff.
//
// Usage:
//
//	c, err := client.Dial(config, serializer.NewBinarySerializer())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	if err := c.Announce("worker"); err != nil {
//		return err
//	}
func Dial(config common.ClientConfig, s serializer.IIPCSerializer) (*Client, error) {
	if config.SocketPath == "" {
		config.SocketPath = common.DefaultSocketPath
	}
	if config.Transport == "" {
		config.Transport = common.TransportStream
	}

	ch, err := connectWithRetry(config)
	if err != nil {
		return nil, err
	}

	mux, err := poll.NewMultiplexer[uint64](poll.Uint64Keys{}, 4)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := mux.Register(ch.Fd(), channelKey); err != nil {
		_ = mux.Close()
		_ = ch.Close()
		return nil, err
	}

	Logger.Debugf("connected to %s (%s)", config.SocketPath, config.Transport)
	return &Client{
		config:  config,
		codec:   codec.NewPacketCodec(s),
		channel: ch,
		mux:     mux,
	}, nil
}

// connectWithRetry connects at least once and up to RetryCount times
func connectWithRetry(config common.ClientConfig) (transport.IChannel, error) {
	maxRetries := config.RetryCount
	if maxRetries < 1 {
		maxRetries = 1
	}

	// Initial backoff duration in milliseconds
	backoffMs := 50

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		ch, err := uds.Connect(config.SocketPath, config.Transport, uds.DefaultChannelOptions())
		if err == nil {
			return ch, nil
		}
		if errors.Is(err, uds.ErrPathTooLong) {
			return nil, err
		}

		lastErr = err
		Logger.Debugf("connect attempt %d/%d failed: %v", i+1, maxRetries, err)

		if i+1 < maxRetries {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter) * time.Millisecond)
			backoffMs *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

// --------------------------------------------------------------------------
// Messaging
// --------------------------------------------------------------------------

// Send writes req together with caps. caps stay owned by the caller. If the socket
// buffer is full Send waits for the socket to become writable, at most the configured timeout.
func (c *Client) Send(req common.Request, caps []*os.File) error {
	if c.closed {
		return ErrChannelClosed
	}

	p, err := c.codec.EncodeRequest(req, caps)
	if err != nil {
		return err
	}

	for {
		err := c.channel.WritePacket(p)
		if !errors.Is(err, transport.ErrWouldBlock) {
			return err
		}
		if err := c.awaitWritable(); err != nil {
			return err
		}
	}
}

// Next returns the next event sent by the server. A negative timeout waits forever.
// The caller owns the returned capabilities.
func (c *Client) Next(timeout time.Duration) (common.Event, []*os.File, error) {
	if c.closed {
		return common.Event{}, nil, ErrChannelClosed
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if len(c.pending) > 0 {
			p := c.pending[0]
			c.pending = c.pending[1:]
			return c.codec.DecodeEvent(p)
		}

		packets, err := c.channel.ReadPackets()
		switch {
		case err == nil:
			c.pending = append(c.pending, packets...)
			continue
		case errors.Is(err, io.EOF):
			return common.Event{}, nil, ErrChannelClosed
		case !errors.Is(err, transport.ErrWouldBlock):
			return common.Event{}, nil, err
		}

		wait := time.Duration(-1)
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return common.Event{}, nil, ErrTimeout
			}
		}

		events, err := c.mux.Wait(wait)
		if err != nil {
			return common.Event{}, nil, err
		}
		for _, ev := range events {
			if ev.Condition == poll.Broken {
				return common.Event{}, nil, ErrChannelBroken
			}
			// Ready and Hup: the next read returns the data or io.EOF
		}
	}
}

// Announce introduces the client by name and waits until the server accepted it
func (c *Client) Announce(name string) error {
	if err := c.Send(*common.NewAnnounceRequest(name), nil); err != nil {
		return err
	}

	evt, caps, err := c.Next(c.timeout())
	if err != nil {
		return err
	}
	_ = transport.CloseFiles(caps)

	if evt.EvtType != common.EvtTAnnounceAccepted {
		return fmt.Errorf("%w: %s", ErrUnexpectedEvent, evt.EvtType)
	}
	return nil
}

// Fd returns the descriptor of the underlying channel
func (c *Client) Fd() int {
	return c.channel.Fd()
}

// Close closes the connection and releases unread capabilities. Closing twice is a no-op.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	for i := range c.pending {
		_ = c.pending[i].Close()
	}
	c.pending = nil

	return errors.Join(c.mux.Close(), c.channel.Close())
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// timeout returns the configured timeout, or -1 if none is set
func (c *Client) timeout() time.Duration {
	if c.config.TimeoutSecond <= 0 {
		return -1
	}
	return time.Duration(c.config.TimeoutSecond) * time.Second
}

// awaitWritable arms output interest until the channel can be written and then restores input interest
func (c *Client) awaitWritable() error {
	fd := c.channel.Fd()
	if err := c.mux.RegisterInterest(fd, channelKey, poll.InterestOutput); err != nil {
		return err
	}
	defer func() {
		if err := c.mux.Register(fd, channelKey); err != nil {
			Logger.Warningf("failed to restore input interest: %v", err)
		}
	}()

	timeout := c.timeout()
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		wait := time.Duration(-1)
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return ErrTimeout
			}
		}

		events, err := c.mux.Wait(wait)
		if err != nil {
			return err
		}
		for _, ev := range events {
			switch ev.Condition {
			case poll.Writable:
				return nil
			case poll.Broken:
				return ErrChannelBroken
			case poll.Hup:
				return ErrChannelClosed
			}
		}
	}
}
