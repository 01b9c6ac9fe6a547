package server

import (
	"fmt"
)

// PollKind tells the event loop what kind of descriptor an event belongs to
type PollKind uint8

const (
	PollListener PollKind = iota + 1
	PollClient
	PollWaker
)

// String returns the string representation of a PollKind
func (k PollKind) String() string {
	switch k {
	case PollListener:
		return "listener"
	case PollClient:
		return "client"
	case PollWaker:
		return "waker"
	default:
		return "unknown"
	}
}

// PollID is the multiplexer key of the server: the kind of descriptor and its number
type PollID struct {
	Kind PollKind
	Fd   int
}

func (id PollID) String() string {
	return fmt.Sprintf("%s:%d", id.Kind, id.Fd)
}

// pollIDCodec stores the kind in the upper and the descriptor in the lower 32 bits
type pollIDCodec struct{}

func (pollIDCodec) ToU64(id PollID) uint64 {
	return uint64(id.Kind)<<32 | uint64(uint32(id.Fd))
}

func (pollIDCodec) FromU64(u uint64) (PollID, error) {
	kind := u >> 32
	if kind < uint64(PollListener) || kind > uint64(PollWaker) {
		return PollID{}, fmt.Errorf("invalid poll kind %d", kind)
	}
	return PollID{Kind: PollKind(kind), Fd: int(int32(uint32(u)))}, nil
}
