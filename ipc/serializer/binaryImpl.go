package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency.
//
// Layout:
//
//	Announce:          0x01 | u32 BE name length | name bytes
//	AnnounceAccepted:  0x81
func NewBinarySerializer() IIPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IIPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IIPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) SerializeRequest(req common.Request) ([]byte, error) {
	switch req.ReqType {
	case common.ReqTAnnounce:
		nameBytes := []byte(req.Name)
		nameLen := len(nameBytes)

		result := make([]byte, 1+4+nameLen)
		result[0] = byte(req.ReqType)

		// Write name length
		binary.BigEndian.PutUint32(result[1:5], uint32(nameLen))

		// Write name data
		copy(result[5:], nameBytes)
		return result, nil
	default:
		return nil, fmt.Errorf("cannot serialize request type 0x%02x", uint8(req.ReqType))
	}
}

func (b binarySerializerImpl) DeserializeRequest(data []byte, req *common.Request) error {
	// Check minimum size (tag)
	if len(data) < 1 {
		return fmt.Errorf("data too short for request header")
	}

	reqType := common.RequestType(data[0])
	switch reqType {
	case common.ReqTAnnounce:
		if len(data) < 5 {
			return fmt.Errorf("data too short for name length")
		}
		nameLen := binary.BigEndian.Uint32(data[1:5])

		// Exact length check, trailing bytes are rejected too
		if uint64(len(data)-5) != uint64(nameLen) {
			return fmt.Errorf("invalid name length %d for %d remaining bytes", nameLen, len(data)-5)
		}

		req.ReqType = reqType
		req.Name = string(data[5:])
		return nil
	default:
		return fmt.Errorf("unknown request type 0x%02x", uint8(reqType))
	}
}

func (b binarySerializerImpl) SerializeEvent(evt common.Event) ([]byte, error) {
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("cannot serialize event: %w", err)
	}
	return []byte{byte(evt.EvtType)}, nil
}

func (b binarySerializerImpl) DeserializeEvent(data []byte, evt *common.Event) error {
	if len(data) != 1 {
		return fmt.Errorf("invalid event length %d", len(data))
	}

	evtType := common.EventType(data[0])
	if evtType != common.EvtTAnnounceAccepted {
		return fmt.Errorf("unknown event type 0x%02x", uint8(evtType))
	}
	evt.EvtType = evtType
	return nil
}
