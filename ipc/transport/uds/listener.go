package uds

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/transport"
	"golang.org/x/sys/unix"
	"io/fs"
	"os"
)

// ListenSocket is a bound, listening, non-blocking AF_UNIX socket.
// It implements transport.IListenSocket.
type ListenSocket struct {
	fd      int
	path    string
	variant common.TransportVariant
	opts    ChannelOptions
	closed  bool
}

// Listen creates a non-blocking socket of the given variant, binds it to path and
// starts listening. Bind fails with EADDRINUSE if path already exists, use
// PrepareSocketPath first to clean up stale sockets.
func Listen(path string, variant common.TransportVariant, backlog int) (*ListenSocket, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	typ, err := sockType(variant)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to bind socket to %s: %w", path, err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}

	Logger.Debugf("listening on %s (%s, backlog %d)", path, variant, backlog)
	return &ListenSocket{
		fd:      fd,
		path:    path,
		variant: variant,
		opts:    DefaultChannelOptions(),
	}, nil
}

// WithChannelOptions sets the options of every channel accepted afterwards
func (l *ListenSocket) WithChannelOptions(opts ChannelOptions) *ListenSocket {
	l.opts = opts.normalized()
	return l
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IListenSocket)
// --------------------------------------------------------------------------

func (l *ListenSocket) Accept() (transport.IChannel, error) {
	if l.closed {
		return nil, ErrChannelClosed
	}

	var nfd int
	var err error
	for {
		nfd, _, err = unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		// a peer that gave up before we accepted it is a spurious wakeup
		if err == unix.EAGAIN || err == unix.ECONNABORTED {
			return nil, transport.ErrWouldBlock
		}
		return nil, fmt.Errorf("accept failed: %w", err)
	}

	switch l.variant {
	case common.TransportSeqPacket:
		return newSeqPacketChannel(nfd), nil
	default:
		return newStreamChannel(nfd, l.opts), nil
	}
}

func (l *ListenSocket) Fd() int {
	return l.fd
}

func (l *ListenSocket) Path() string {
	return l.path
}

func (l *ListenSocket) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	err := unix.Close(l.fd)
	if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		Logger.Warningf("failed to remove socket %s: %v", l.path, rmErr)
	}
	if err != nil {
		return fmt.Errorf("failed to close listen socket: %w", err)
	}
	return nil
}
