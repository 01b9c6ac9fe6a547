package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/transport"
	"math"
	"os"
)

// HeaderLen is the size of the stream frame header: u16 payload length + u16 capability count (little endian)
const HeaderLen = 4

// MaxPayloadLen is the largest payload a stream frame can describe
const MaxPayloadLen = math.MaxUint16

// MaxCapabilities is the largest capability count a stream frame can describe
const MaxCapabilities = math.MaxUint16

// DefaultMaxPendingCapabilities bounds the unclaimed descriptors a decoder holds
const DefaultMaxPendingCapabilities = 1024

var (
	// ErrPacketTooLarge is returned when a payload does not fit the u16 length field
	ErrPacketTooLarge = errors.New("packet payload exceeds 65535 bytes")
	// ErrTooManyCapabilities is returned when a packet carries more capabilities than the u16 count field allows
	ErrTooManyCapabilities = errors.New("packet carries more than 65535 capabilities")
	// ErrCapabilityBacklog is returned when the peer sent more descriptors than frames claim
	ErrCapabilityBacklog = errors.New("too many unclaimed capabilities")
)

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// EncodeFrame returns header + payload for p. The capabilities are not part of
// the bytes, they are sent out of band together with the first byte of the frame.
func EncodeFrame(p transport.Packet) ([]byte, error) {
	if len(p.Data) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(p.Data))
	}
	if len(p.Capabilities) > MaxCapabilities {
		return nil, fmt.Errorf("%w: %d capabilities", ErrTooManyCapabilities, len(p.Capabilities))
	}

	frame := make([]byte, HeaderLen+len(p.Data))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(p.Data)))
	binary.LittleEndian.PutUint16(frame[2:4], uint16(len(p.Capabilities)))
	copy(frame[HeaderLen:], p.Data)
	return frame, nil
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// StreamDecoder reassembles frames from arbitrarily chunked stream reads.
// Bytes and descriptors are buffered independently and matched by arrival order.
// A StreamDecoder is not safe for concurrent use.
type StreamDecoder struct {
	buf     []byte
	caps    []*os.File
	maxCaps int
}

// NewStreamDecoder creates a decoder that refuses to hold more than maxPendingCaps
// unclaimed descriptors. Values <= 0 select DefaultMaxPendingCapabilities.
func NewStreamDecoder(maxPendingCaps int) *StreamDecoder {
	if maxPendingCaps <= 0 {
		maxPendingCaps = DefaultMaxPendingCapabilities
	}
	return &StreamDecoder{
		caps:    []*os.File{},
		maxCaps: maxPendingCaps,
	}
}

// Feed appends the bytes and descriptors of one receive.
// On ErrCapabilityBacklog the decoder takes ownership of caps and closes them.
func (d *StreamDecoder) Feed(data []byte, caps []*os.File) error {
	if len(d.caps)+len(caps) > d.maxCaps {
		_ = transport.CloseFiles(caps)
		return fmt.Errorf("%w: %d pending, limit %d", ErrCapabilityBacklog, len(d.caps)+len(caps), d.maxCaps)
	}
	d.buf = append(d.buf, data...)
	d.caps = append(d.caps, caps...)
	return nil
}

// Drain removes and returns every complete frame, in order. It stops at the first
// frame that still misses payload bytes or descriptors.
func (d *StreamDecoder) Drain() []transport.Packet {
	var packets []transport.Packet
	consumed := 0

	for {
		rest := d.buf[consumed:]
		if len(rest) < HeaderLen {
			break
		}

		payloadLen := int(binary.LittleEndian.Uint16(rest[0:2]))
		capCount := int(binary.LittleEndian.Uint16(rest[2:4]))

		if len(rest) < HeaderLen+payloadLen || len(d.caps) < capCount {
			break
		}

		// copy out so that the packet never aliases the internal buffer
		data := make([]byte, payloadLen)
		copy(data, rest[HeaderLen:HeaderLen+payloadLen])

		caps := make([]*os.File, capCount)
		copy(caps, d.caps[:capCount])
		d.caps = d.caps[capCount:]

		packets = append(packets, transport.NewPacket(data, caps))
		consumed += HeaderLen + payloadLen
	}

	// compact once per drain so the buffer always starts at a frame boundary
	if consumed > 0 {
		n := copy(d.buf, d.buf[consumed:])
		d.buf = d.buf[:n]
	}
	return packets
}

// Buffered returns the number of pending bytes and descriptors
func (d *StreamDecoder) Buffered() (bytes int, caps int) {
	return len(d.buf), len(d.caps)
}

// Close drops the pending bytes and closes every unclaimed descriptor
func (d *StreamDecoder) Close() error {
	err := transport.CloseFiles(d.caps)
	d.caps = []*os.File{}
	d.buf = nil
	return err
}
