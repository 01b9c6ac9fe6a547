package serializer

import "github.com/ValentinKolb/uio/ipc/common"

// IIPCSerializer is the interface for all message serializers.
// Requests and events are two disjoint unions: bytes produced for one of them
// must never deserialize successfully as the other.
type IIPCSerializer interface {
	// SerializeRequest serializes a Request into a byte array
	SerializeRequest(req common.Request) ([]byte, error)
	// DeserializeRequest deserializes a byte array into a Request.
	// It returns an error if the bytes do not describe a known request.
	DeserializeRequest(b []byte, req *common.Request) error
	// SerializeEvent serializes an Event into a byte array
	SerializeEvent(evt common.Event) ([]byte, error)
	// DeserializeEvent deserializes a byte array into an Event.
	// It returns an error if the bytes do not describe a known event.
	DeserializeEvent(b []byte, evt *common.Event) error
}

// ByName returns the serializer registered under name (binary, json, gob or cbor)
func ByName(name string) (IIPCSerializer, bool) {
	switch name {
	case "binary":
		return NewBinarySerializer(), true
	case "json":
		return NewJSONSerializer(), true
	case "gob":
		return NewGOBSerializer(), true
	case "cbor":
		return NewCBORSerializer(), true
	default:
		return nil, false
	}
}
