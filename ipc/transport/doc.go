// Package transport defines the contracts shared by every uio socket
// implementation: the Packet unit of transfer, the channel and listen socket
// interfaces and the error taxonomy used to decide how much to tear down.
//
// Key Components:
//
//   - Packet: Payload bytes plus an ordered list of capabilities (open
//     descriptors as *os.File). Capabilities are always present, possibly
//     empty. The holder of a packet owns its capabilities.
//
//   - IChannel / IListenSocket: Implemented by the uds sub package for
//     SOCK_STREAM and SOCK_SEQPACKET sockets.
//
//   - Severity: Every error is either connection scoped (tear down one
//     connection) or process scoped (stop serving). Use SeverityOf to classify.
//
// Sub packages:
//
//   - framing: Stream frame encoding/decoding and record accumulation
//   - uds: Non-blocking Unix domain socket channels and listen sockets
package transport
