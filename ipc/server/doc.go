// Package server implements the uio IPC server: a connection table keyed by
// descriptor number, the request handling contract and two interchangeable
// ways of driving the connections.
//
// The package focuses on:
//   - Accepting clients and tracking their lifecycle (active, torn down)
//   - Turning readiness events into decoded requests for a single handler
//   - Isolating failures: a misbehaving client only loses its own connection
//
// Key Components:
//
//   - EventLoop: The single goroutine baseline. One Multiplexer holds the
//     listener, every client and a Waker. Each listener event accepts at most
//     one connection, each client event performs one receive step and
//     dispatches the complete packets in order.
//
//   - ThreadedServer: Thread per connection mode. The acceptor and every
//     connection goroutine block on their own Multiplexer (the Waker is
//     registered in all of them). Connection goroutines push decoded requests
//     into a lock-free delivery queue that a single dispatcher goroutine
//     consumes, so the handler still runs on one goroutine.
//
//   - ConnectionTable: Concurrent map from descriptor number to *Connection.
//     An entry is removed before its descriptor is closed, so a reused number
//     never collides with a live entry. A collision anyway is an
//     *IdentityConflictError and stops the server.
//
//   - IRequestHandler: Contract for application logic. NewAnnounceHandler
//     implements the announce protocol: one Announce per connection, answered
//     with AnnounceAccepted.
//
//   - IPCServer: Prepares the socket path, opens the listen socket, selects the
//     mode from common.ServerConfig, optionally serves Prometheus metrics and
//     runs until the context is cancelled.
//
// Usage Example:
//
//	config := common.DefaultServerConfig()
//	config.Mode = common.ServerModeThreaded
//
//	s := server.NewIPCServer(config, serializer.NewBinarySerializer())
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Error Handling:
//
// Errors are classified with transport.SeverityOf. Connection severity
// (protocol violations, malformed payloads, io.EOF) tears down the affected
// connection only. Process severity (key round trip failures, identity
// conflicts) makes Run return the error.
//
// Thread Safety:
//
// Stop, Table and Metrics are safe from any goroutine. Handler methods are
// always called from a single goroutine. Connection.Send may be called by the
// handler while the owner of the connection tears it down; it then returns
// ErrConnectionClosed.
package server
