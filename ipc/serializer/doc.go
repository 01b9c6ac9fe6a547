// Package serializer provides interfaces and implementations for serializing
// and deserializing uio messages. It converts between Request / Event
// structures and their byte representation on the wire.
//
// Key Components:
//
//   - IIPCSerializer: Core interface for request and event serialization
//
// Implementations:
//
//   - Binary: Custom binary format, a tag byte followed by length prefixed
//     fields. Smallest and fastest, the default of the CLI.
//   - JSON: Human-readable, string tags ("announce", "announce_accepted")
//   - GOB: Go's native gob encoding
//   - CBOR: Core Deterministic CBOR with integer map keys
//
// Every implementation validates the decoded tag, and request tags are disjoint
// from event tags, so a payload of one union never decodes as the other.
//
// Thread Safety:
//
// All serializers are stateless and safe for concurrent use.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.SerializeRequest(*common.NewAnnounceRequest("worker-1"))
//	var req common.Request
//	err = s.DeserializeRequest(data, &req)
package serializer
