package transport

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Severity
// --------------------------------------------------------------------------

// Severity tells the owner of a failing operation how far the damage reaches
type Severity int

const (
	// SeverityConnection means only the affected connection has to be torn down
	SeverityConnection Severity = iota
	// SeverityProcess means an internal invariant is broken and the process should stop serving
	SeverityProcess
)

// String returns the string representation of a Severity
func (s Severity) String() string {
	switch s {
	case SeverityConnection:
		return "connection"
	case SeverityProcess:
		return "process"
	default:
		return "unknown"
	}
}

// severityCarrier is implemented by errors that know their own severity
type severityCarrier interface {
	Severity() Severity
}

// SeverityOf returns the severity of err. Errors that do not carry a severity
// are connection scoped.
func SeverityOf(err error) Severity {
	var sc severityCarrier
	if errors.As(err, &sc) {
		return sc.Severity()
	}
	return SeverityConnection
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ErrWouldBlock is returned when a non-blocking operation has nothing to do.
// It is never fatal.
var ErrWouldBlock = errors.New("operation would block")

// ProtocolError is returned when the peer violated the wire protocol
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error during %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error during %s: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Severity implements the severity carrier; protocol errors only affect one connection
func (e *ProtocolError) Severity() Severity {
	return SeverityConnection
}

// PartialSendError is returned when the kernel accepted only part of a packet
type PartialSendError struct {
	Sent  int
	Total int
}

func (e *PartialSendError) Error() string {
	return fmt.Sprintf("partial send: %d of %d bytes written", e.Sent, e.Total)
}

// Severity implements the severity carrier
func (e *PartialSendError) Severity() Severity {
	return SeverityConnection
}
