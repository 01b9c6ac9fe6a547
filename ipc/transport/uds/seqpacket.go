package uds

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/transport"
	"github.com/ValentinKolb/uio/ipc/transport/framing"
	"golang.org/x/sys/unix"
	"io"
)

// recordChunk is the step in which the receive buffer grows to fit a pending record
const recordChunk = 4096

// ErrEmptyRecord is returned when writing a packet without payload: a zero length
// record can not be told apart from an orderly shutdown on the receiving side
var ErrEmptyRecord = errors.New("seqpacket records must carry a payload")

// SeqPacketChannel is a connected SOCK_SEQPACKET socket. The kernel keeps record
// boundaries, so every packet is exactly one record.
// It implements transport.IChannel and is not safe for concurrent use.
type SeqPacketChannel struct {
	fd     int
	closed bool
	buf    []byte
	oob    []byte
	acc    *framing.RecordAccumulator
}

func newSeqPacketChannel(fd int) *SeqPacketChannel {
	return &SeqPacketChannel{
		fd:  fd,
		buf: make([]byte, recordChunk),
		oob: make([]byte, controlSpace),
		acc: framing.NewRecordAccumulator(),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IChannel)
// --------------------------------------------------------------------------

// ReadPackets returns at most one record per call
func (c *SeqPacketChannel) ReadPackets() ([]transport.Packet, error) {
	if c.closed {
		return nil, ErrChannelClosed
	}

	size, err := c.peekRecordLen()
	if err != nil {
		return nil, err
	}
	c.ensureCapacity(size)

	n, files, _, err := receive(c.fd, c.buf, c.oob, 0)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		_ = transport.CloseFiles(files)
		return nil, io.EOF
	}

	// receive rejects truncated records and the buffer fits the peeked length,
	// so every receive yields a whole record
	p, _ := c.acc.Append(c.buf[:n], files, true)
	return []transport.Packet{p}, nil
}

func (c *SeqPacketChannel) WritePacket(p transport.Packet) error {
	if c.closed {
		return ErrChannelClosed
	}
	if len(p.Data) == 0 {
		return ErrEmptyRecord
	}
	if len(p.Data) > framing.MaxPayloadLen {
		return fmt.Errorf("%w: %d bytes", framing.ErrPacketTooLarge, len(p.Data))
	}
	return send(c.fd, p.Data, p.Capabilities, unix.MSG_EOR)
}

func (c *SeqPacketChannel) Fd() int {
	return c.fd
}

func (c *SeqPacketChannel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	accErr := c.acc.Close()
	if err := unix.Close(c.fd); err != nil {
		return errors.Join(fmt.Errorf("failed to close channel: %w", err), accErr)
	}
	return accErr
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// peekRecordLen returns the full length of the next pending record without consuming it
func (c *SeqPacketChannel) peekRecordLen() (int, error) {
	for {
		n, _, _, _, err := unix.Recvmsg(c.fd, nil, nil, unix.MSG_PEEK|unix.MSG_TRUNC)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, transport.ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("recvmsg peek failed: %w", err)
		default:
			return n, nil
		}
	}
}

func (c *SeqPacketChannel) ensureCapacity(size int) {
	if size <= len(c.buf) {
		return
	}
	chunks := (size + recordChunk - 1) / recordChunk
	c.buf = make([]byte, chunks*recordChunk)
}
