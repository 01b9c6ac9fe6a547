package codec

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/serializer"
	"github.com/ValentinKolb/uio/ipc/transport"
	"os"
)

// ErrMalformedPayload is wrapped by every decode error: the bytes match no variant of the expected union
var ErrMalformedPayload = errors.New("malformed payload")

// PacketCodec converts between application messages and transport packets.
// It is stateless and safe for concurrent use as long as the serializer is.
type PacketCodec struct {
	serializer serializer.IIPCSerializer
}

// NewPacketCodec creates a codec on top of the given serializer
func NewPacketCodec(s serializer.IIPCSerializer) *PacketCodec {
	return &PacketCodec{serializer: s}
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// EncodeRequest serializes req and attaches caps (which may be nil)
func (c *PacketCodec) EncodeRequest(req common.Request, caps []*os.File) (transport.Packet, error) {
	data, err := c.serializer.SerializeRequest(req)
	if err != nil {
		return transport.Packet{}, fmt.Errorf("failed to encode request: %w", err)
	}
	return transport.NewPacket(data, caps), nil
}

// EncodeEvent serializes evt and attaches caps (which may be nil)
func (c *PacketCodec) EncodeEvent(evt common.Event, caps []*os.File) (transport.Packet, error) {
	data, err := c.serializer.SerializeEvent(evt)
	if err != nil {
		return transport.Packet{}, fmt.Errorf("failed to encode event: %w", err)
	}
	return transport.NewPacket(data, caps), nil
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// DecodeRequest parses a packet sent by a client. On success the caller owns the
// returned capabilities; on failure they are closed.
func (c *PacketCodec) DecodeRequest(p transport.Packet) (common.Request, []*os.File, error) {
	var req common.Request
	if err := c.serializer.DeserializeRequest(p.Data, &req); err != nil {
		_ = p.Close()
		return common.Request{}, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return req, p.Capabilities, nil
}

// DecodeEvent parses a packet sent by the server. On success the caller owns the
// returned capabilities; on failure they are closed.
func (c *PacketCodec) DecodeEvent(p transport.Packet) (common.Event, []*os.File, error) {
	var evt common.Event
	if err := c.serializer.DeserializeEvent(p.Data, &evt); err != nil {
		_ = p.Close()
		return common.Event{}, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return evt, p.Capabilities, nil
}
