package poll

import (
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sys/unix"
	"time"
)

// Logger is the logger of the poll package
var Logger = logger.GetLogger("poll")

// --------------------------------------------------------------------------
// Conditions and interests
// --------------------------------------------------------------------------

// Condition is one readiness condition reported for a registered descriptor
type Condition int

const (
	// Ready means data (or a pending connection) can be read
	Ready Condition = iota
	// Writable means data can be written, only reported with output interest
	Writable
	// Broken means the descriptor is in an error state
	Broken
	// Hup means the peer hung up
	Hup
)

// String returns the string representation of a Condition
func (c Condition) String() string {
	switch c {
	case Ready:
		return "ready"
	case Writable:
		return "writable"
	case Broken:
		return "broken"
	case Hup:
		return "hup"
	default:
		return "unknown"
	}
}

// Interest selects the conditions a descriptor is armed for. Errors and hang ups are always reported.
type Interest int

const (
	InterestInput Interest = 1 << iota
	InterestOutput
)

// Event is one condition on the descriptor registered under Key
type Event[K comparable] struct {
	Key       K
	Condition Condition
}

// --------------------------------------------------------------------------
// Multiplexer
// --------------------------------------------------------------------------

// Multiplexer waits for readiness of many descriptors, each registered under a key of type K.
// Register and Deregister may be called while another goroutine waits; Wait itself must
// only be called by one goroutine at a time.
type Multiplexer[K comparable] struct {
	epfd   int
	codec  KeyCodec[K]
	events []unix.EpollEvent
	closed bool
}

// NewMultiplexer creates a multiplexer that returns at most capacity kernel events per Wait
func NewMultiplexer[K comparable](codec KeyCodec[K], capacity int) (*Multiplexer[K], error) {
	if capacity <= 0 {
		capacity = 64
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll instance: %w", err)
	}

	return &Multiplexer[K]{
		epfd:   epfd,
		codec:  codec,
		events: make([]unix.EpollEvent, capacity),
	}, nil
}

// Register arms fd for input and error conditions under key. Output interest is
// not armed: a level triggered writable socket would wake every wait, use
// RegisterInterest with InterestOutput while a write is pending.
func (m *Multiplexer[K]) Register(fd int, key K) error {
	return m.RegisterInterest(fd, key, InterestInput)
}

// RegisterInterest arms fd for the given interest under key. A descriptor that is
// already registered is re-armed with the new key and interest.
func (m *Multiplexer[K]) RegisterInterest(fd int, key K, interest Interest) error {
	u, err := checkEncode(m.codec, key)
	if err != nil {
		return err
	}

	ev := unix.EpollEvent{Events: unix.EPOLLERR}
	if interest&InterestInput != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if interest&InterestOutput != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	setUserData(&ev, u)

	err = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if err == unix.EEXIST {
		err = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	if err != nil {
		return fmt.Errorf("failed to register descriptor %d: %w", fd, err)
	}
	return nil
}

// Deregister removes fd. Unknown or already closed descriptors are ignored, so
// deregistering twice is a no-op.
func (m *Multiplexer[K]) Deregister(fd int) error {
	err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == nil || err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return fmt.Errorf("failed to deregister descriptor %d: %w", fd, err)
}

// Wait blocks until at least one registered descriptor is ready or the timeout
// expires. A negative timeout blocks indefinitely. Every condition of a descriptor
// is reported as its own event in the order Ready, Writable, Broken, Hup.
// An interrupted wait returns an empty batch.
func (m *Multiplexer[K]) Wait(timeout time.Duration) ([]Event[K], error) {
	msec := -1
	if timeout >= 0 {
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}

	n, err := unix.EpollWait(m.epfd, m.events, msec)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("epoll wait failed: %w", err)
	}

	out := make([]Event[K], 0, n)
	for i := 0; i < n; i++ {
		ev := &m.events[i]
		key, err := checkDecode(m.codec, userData(ev))
		if err != nil {
			Logger.Errorf("dropping event batch: %v", err)
			return nil, err
		}

		if ev.Events&unix.EPOLLIN != 0 {
			out = append(out, Event[K]{Key: key, Condition: Ready})
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			out = append(out, Event[K]{Key: key, Condition: Writable})
		}
		if ev.Events&unix.EPOLLERR != 0 {
			out = append(out, Event[K]{Key: key, Condition: Broken})
		}
		if ev.Events&unix.EPOLLHUP != 0 {
			out = append(out, Event[K]{Key: key, Condition: Hup})
		}
	}
	return out, nil
}

// Fd returns the epoll descriptor
func (m *Multiplexer[K]) Fd() int {
	return m.epfd
}

// Close releases the epoll instance. Registered descriptors are not closed.
func (m *Multiplexer[K]) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return unix.Close(m.epfd)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// setUserData stores u in the 64 bit data union of the event
func setUserData(ev *unix.EpollEvent, u uint64) {
	ev.Fd = int32(uint32(u))
	ev.Pad = int32(uint32(u >> 32))
}

// userData reads the 64 bit data union of the event
func userData(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}
