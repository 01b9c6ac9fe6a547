package uds

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sys/unix"
	"io/fs"
	"os"
	"path/filepath"
)

// Logger is the logger of the transport layer
var Logger = logger.GetLogger("transport")

// maxPathLen is the usable size of sun_path, one byte is kept for the terminating NUL
const maxPathLen = len(unix.RawSockaddrUnix{}.Path) - 1

var (
	// ErrPathTooLong is returned for socket paths that do not fit into sun_path
	ErrPathTooLong = errors.New("socket path too long")
	// ErrAddressInUse is returned when a live server already listens on the socket path
	ErrAddressInUse = errors.New("socket path is in use by a live server")
	// ErrChannelClosed is returned by operations on a closed channel
	ErrChannelClosed = errors.New("channel closed")
)

// --------------------------------------------------------------------------
// Channel options
// --------------------------------------------------------------------------

// ChannelOptions configures the channels created by Accept and Connect
type ChannelOptions struct {
	// ReadBufferSize is the data buffer of one stream receive
	ReadBufferSize int
	// MaxPendingCapabilities bounds the descriptors a stream channel buffers for incomplete frames
	MaxPendingCapabilities int
}

// DefaultChannelOptions returns 16 KiB receives and at most 1024 pending capabilities
func DefaultChannelOptions() ChannelOptions {
	return ChannelOptions{
		ReadBufferSize:         16 * 1024,
		MaxPendingCapabilities: 1024,
	}
}

func (o ChannelOptions) normalized() ChannelOptions {
	def := DefaultChannelOptions()
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = def.ReadBufferSize
	}
	if o.MaxPendingCapabilities <= 0 {
		o.MaxPendingCapabilities = def.MaxPendingCapabilities
	}
	return o
}

// --------------------------------------------------------------------------
// Socket path provisioning
// --------------------------------------------------------------------------

// PrepareSocketPath makes path usable for Listen: the parent directory is created and a
// stale socket left behind by a crashed server is removed. A path that still has a
// live listener yields ErrAddressInUse, an entry that is not a socket is an error.
func PrepareSocketPath(path string, variant common.TransportVariant) error {
	if err := checkPath(path); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat socket path: %w", err)
	}
	if info.Mode().Type() != fs.ModeSocket {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	live, err := isLive(path, variant)
	if err != nil {
		return err
	}
	if live {
		return fmt.Errorf("%w: %s", ErrAddressInUse, path)
	}

	Logger.Infof("removing stale socket %s", path)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}

// isLive connects to path to find out whether a server still listens on it
func isLive(path string, variant common.TransportVariant) (bool, error) {
	typ, err := sockType(variant)
	if err != nil {
		return false, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return false, fmt.Errorf("failed to create test socket: %w", err)
	}
	defer unix.Close(fd)

	err = unix.Connect(fd, &unix.SockaddrUnix{Name: path})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EPROTOTYPE):
		// backlog full or a listener of the other socket type, both are alive
		return true, nil
	case errors.Is(err, unix.ECONNREFUSED), errors.Is(err, unix.ENOENT):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check socket %s: %w", path, err)
	}
}

// --------------------------------------------------------------------------
// Connect
// --------------------------------------------------------------------------

// ConnectStream connects to a SOCK_STREAM listener
func ConnectStream(path string, opts ChannelOptions) (*StreamChannel, error) {
	fd, err := connect(path, unix.SOCK_STREAM)
	if err != nil {
		return nil, err
	}
	return newStreamChannel(fd, opts), nil
}

// ConnectSeqPacket connects to a SOCK_SEQPACKET listener
func ConnectSeqPacket(path string) (*SeqPacketChannel, error) {
	fd, err := connect(path, unix.SOCK_SEQPACKET)
	if err != nil {
		return nil, err
	}
	return newSeqPacketChannel(fd), nil
}

// Connect connects to path using the given transport variant
func Connect(path string, variant common.TransportVariant, opts ChannelOptions) (transport.IChannel, error) {
	switch variant {
	case common.TransportStream:
		return ConnectStream(path, opts)
	case common.TransportSeqPacket:
		return ConnectSeqPacket(path)
	default:
		return nil, fmt.Errorf("unsupported transport %q", variant)
	}
}

// connect performs a blocking connect, so a full backlog delays instead of failing,
// and switches the descriptor to non-blocking afterwards
func connect(path string, typ int) (int, error) {
	if err := checkPath(path); err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, typ|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to create socket: %w", err)
	}

	for {
		err = unix.Connect(fd, &unix.SockaddrUnix{Name: path})
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("failed to connect to %s: %w", path, err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("failed to set socket non-blocking: %w", err)
	}
	return fd, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func sockType(variant common.TransportVariant) (int, error) {
	switch variant {
	case common.TransportStream:
		return unix.SOCK_STREAM, nil
	case common.TransportSeqPacket:
		return unix.SOCK_SEQPACKET, nil
	default:
		return 0, fmt.Errorf("unsupported transport %q", variant)
	}
}

func checkPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty socket path")
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("%w: %d bytes, at most %d allowed", ErrPathTooLong, len(path), maxPathLen)
	}
	return nil
}
