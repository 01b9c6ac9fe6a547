package poll

import (
	"encoding/binary"
	"fmt"
	"golang.org/x/sys/unix"
	"sync"
)

// Waker is an eventfd that any goroutine can signal to wake the multiplexers it is registered in.
// It stays readable until Drain is called, so one Wake reaches every multiplexer.
// Wake after Close is a no-op, so a late Stop can never write into a recycled descriptor.
type Waker struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// NewWaker creates a non-blocking, close-on-exec eventfd
func NewWaker() (*Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create eventfd: %w", err)
	}
	return &Waker{fd: fd}, nil
}

// Wake signals the waker. It is safe to call from any goroutine and never blocks.
func (w *Waker) Wake() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(w.fd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN: the counter is saturated, the waker is readable anyway
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("failed to signal waker: %w", err)
		}
	}
}

// Drain resets the waker so it is no longer readable
func (w *Waker) Drain() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("failed to drain waker: %w", err)
		}
	}
}

// Fd returns the eventfd descriptor for registration
func (w *Waker) Fd() int {
	return w.fd
}

// Close releases the eventfd. Closing twice is a no-op.
func (w *Waker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return unix.Close(w.fd)
}
