// Package uds implements the uio channels on top of raw, non-blocking AF_UNIX
// sockets using golang.org/x/sys/unix.
//
// The package deliberately bypasses the net package: the server drives every
// descriptor through its own epoll instance, needs exact control over
// recvmsg/sendmsg flags (MSG_CMSG_CLOEXEC, MSG_EOR, MSG_NOSIGNAL) and must see
// the raw receive flags (MSG_TRUNC, MSG_CTRUNC) to enforce the protocol.
//
// Key Components:
//
//   - ListenSocket: Bound listening socket, owns its filesystem path and
//     removes it on Close. Accept uses accept4 with SOCK_NONBLOCK|SOCK_CLOEXEC.
//
//   - StreamChannel: SOCK_STREAM channel with explicit frame headers (see the
//     framing package). ReadPackets performs exactly one receive and returns
//     every frame that became complete.
//
//   - SeqPacketChannel: SOCK_SEQPACKET channel, one record per packet. The
//     pending record length is peeked first so the receive buffer always fits
//     the whole record.
//
//   - PrepareSocketPath: Creates the socket directory and removes stale sockets
//     left behind by a crashed server, without stealing the path of a live one.
//
// Capabilities:
//
// Open descriptors travel as SCM_RIGHTS ancillary data, at most 253 per
// packet. Received descriptors are installed close-on-exec. Truncated payload
// or control data, error queue notifications and any ancillary data other than
// SCM_RIGHTS (for example credentials) are protocol errors; all descriptors of
// that receive are closed. On write the capabilities are borrowed, the caller
// keeps ownership.
//
// Thread Safety:
//
// Channels and listen sockets are not safe for concurrent use. The server
// serializes access per connection.
package uds
