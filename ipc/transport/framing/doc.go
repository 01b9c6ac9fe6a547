// Package framing turns a sequence of socket receives into whole packets.
//
// Two framings are provided:
//
//   - Stream framing (SOCK_STREAM): every frame starts with a 4 byte header,
//     u16 little endian payload length followed by u16 little endian
//     capability count, then the payload. The descriptors travel out of band
//     and are matched to frames purely by arrival order. StreamDecoder buffers
//     bytes and descriptors independently and only completes a frame once the
//     header, the full payload and enough descriptors are present.
//
//   - Record framing (SOCK_SEQPACKET): the kernel keeps record boundaries, so
//     RecordAccumulator simply concatenates receives until the end-of-record
//     marker is seen.
//
// Thread Safety:
//
// Decoders and accumulators belong to exactly one channel and are not safe
// for concurrent use.
package framing
