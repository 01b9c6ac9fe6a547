// Package common provides core data structures and utilities shared across
// the uio IPC system. It defines the message vocabulary, configuration
// structures and the logging setup used by the other packages.
//
// The package focuses on:
//   - Message vocabulary for client/server communication
//   - Configuration structures for client and server components
//   - Custom logging implementation on top of the dragonboat logger facade
//
// Key Components:
//
//   - Request / Event: The two disjoint tagged unions exchanged over a
//     channel. Requests travel from client to server (Announce), events from
//     server to client (AnnounceAccepted). Request tags live in 0x01..0x7f,
//     event tags in 0x81..0xff, so no payload can decode as both.
//
//   - ServerConfig: Socket path, transport variant, event loop mode and
//     limits for the server.
//
//   - ClientConfig: Socket path, transport variant, timeout and retry
//     behavior for clients.
//
//   - Logger: Custom logger installed as dragonboat's logger factory, so every
//     package can use logger.GetLogger(name) and share one format.
package common
