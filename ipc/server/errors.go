package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/transport"
)

var (
	// ErrListenerBroken is returned by the event loop when the listen socket reports an error or hang up
	ErrListenerBroken = errors.New("listen socket broken")
	// ErrConnectionClosed is returned when sending on a connection that was already closed
	ErrConnectionClosed = errors.New("connection closed")
)

// IdentityConflictError is returned when a connection is inserted under a descriptor
// number that is still in the table. The kernel never hands out a descriptor number
// that is open, so this is a bookkeeping bug and stops the server.
type IdentityConflictError struct {
	Fd int
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("connection table already holds descriptor %d", e.Fd)
}

// Severity implements the severity carrier of the transport package
func (e *IdentityConflictError) Severity() transport.Severity {
	return transport.SeverityProcess
}
