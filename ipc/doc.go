// Package ipc provides local inter-process communication over unix domain
// sockets: one server multiplexes many client connections, exchanges typed
// messages with them and can pass open file descriptors alongside payloads.
//
// The package is organized into several subpackages:
//
//   - common: Message vocabulary (Request / Event), configuration structures
//     and logging.
//
//   - serializer: Message serialization with multiple format options (Binary,
//     JSON, GOB, CBOR).
//
//   - codec: Combines a serializer with capability passing, converting
//     messages to transport packets and back.
//
//   - transport: Packet, channel contracts and error severities. The framing
//     subpackage implements the stream and record framing, the uds subpackage
//     the non-blocking unix domain sockets (SOCK_STREAM and SOCK_SEQPACKET).
//
//   - poll: Readiness multiplexer over epoll with generic keys, and a Waker.
//
//   - server: Connection table, request handling, the single goroutine event
//     loop and the thread per connection mode.
//
//   - client: Connects to a server, sends requests and waits for events.
package ipc
