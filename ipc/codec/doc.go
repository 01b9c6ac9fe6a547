// Package codec turns uio messages into transport packets and back.
//
// A PacketCodec pairs a serializer (binary, json, gob or cbor) with the
// capability list of a packet. Encoding never takes ownership of the
// capabilities; decoding hands them to the caller on success and closes them
// when the payload is malformed, so a rejected packet never leaks descriptors.
//
// Decode errors wrap ErrMalformedPayload and are connection scoped.
package codec
