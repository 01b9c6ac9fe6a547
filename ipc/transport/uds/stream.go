package uds

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/transport"
	"github.com/ValentinKolb/uio/ipc/transport/framing"
	"golang.org/x/sys/unix"
	"io"
)

// StreamChannel is a connected SOCK_STREAM socket using explicit frame headers.
// It implements transport.IChannel and is not safe for concurrent use.
type StreamChannel struct {
	fd      int
	closed  bool
	buf     []byte
	oob     []byte
	decoder *framing.StreamDecoder
}

func newStreamChannel(fd int, opts ChannelOptions) *StreamChannel {
	opts = opts.normalized()
	return &StreamChannel{
		fd:      fd,
		buf:     make([]byte, opts.ReadBufferSize),
		oob:     make([]byte, controlSpace),
		decoder: framing.NewStreamDecoder(opts.MaxPendingCapabilities),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IChannel)
// --------------------------------------------------------------------------

// ReadPackets performs exactly one receive, so a peer that keeps sending can not starve other connections
func (c *StreamChannel) ReadPackets() ([]transport.Packet, error) {
	if c.closed {
		return nil, ErrChannelClosed
	}

	n, files, _, err := receive(c.fd, c.buf, c.oob, 0)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		_ = transport.CloseFiles(files)
		return nil, io.EOF
	}

	if err := c.decoder.Feed(c.buf[:n], files); err != nil {
		return nil, &transport.ProtocolError{Op: "read", Reason: "decoder rejected data", Err: err}
	}
	return c.decoder.Drain(), nil
}

func (c *StreamChannel) WritePacket(p transport.Packet) error {
	if c.closed {
		return ErrChannelClosed
	}

	frame, err := framing.EncodeFrame(p)
	if err != nil {
		return err
	}
	return send(c.fd, frame, p.Capabilities, 0)
}

func (c *StreamChannel) Fd() int {
	return c.fd
}

func (c *StreamChannel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	decErr := c.decoder.Close()
	if err := unix.Close(c.fd); err != nil {
		return errors.Join(fmt.Errorf("failed to close channel: %w", err), decErr)
	}
	return decErr
}
