package uds

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/uio/ipc/transport"
	"golang.org/x/sys/unix"
	"os"
	"runtime"
)

// MaxDescriptorsPerMessage is the kernel limit of descriptors in one SCM_RIGHTS message (SCM_MAX_FD)
const MaxDescriptorsPerMessage = 253

// ErrTooManyDescriptors is returned when a packet carries more descriptors than one sendmsg can transfer
var ErrTooManyDescriptors = errors.New("too many descriptors for one message")

// controlSpace fits the largest SCM_RIGHTS message the kernel will ever deliver
var controlSpace = unix.CmsgSpace(MaxDescriptorsPerMessage * 4)

// receive performs one recvmsg into buf and oob and returns the received descriptors as files.
// Truncation, error queue notifications and any ancillary data other than SCM_RIGHTS
// are protocol errors; every descriptor received by that call is closed.
func receive(fd int, buf, oob []byte, flags int) (n int, files []*os.File, recvflags int, err error) {
	var oobn int
	for {
		n, oobn, recvflags, _, err = unix.Recvmsg(fd, buf, oob, flags|unix.MSG_CMSG_CLOEXEC)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil, 0, transport.ErrWouldBlock
		}
		return 0, nil, 0, fmt.Errorf("recvmsg failed: %w", err)
	}

	fds, foreign, parseErr := parseRights(oob[:oobn])

	reason := ""
	switch {
	case recvflags&unix.MSG_TRUNC != 0:
		reason = "payload truncated"
	case recvflags&unix.MSG_CTRUNC != 0:
		reason = "control data truncated"
	case recvflags&unix.MSG_ERRQUEUE != 0:
		reason = "error queue notification"
	case parseErr != nil:
		reason = "malformed control data"
	case foreign:
		reason = "unexpected ancillary data"
	}
	if reason != "" {
		closeFds(fds)
		return 0, nil, recvflags, &transport.ProtocolError{Op: "recvmsg", Reason: reason, Err: parseErr}
	}

	files = make([]*os.File, len(fds))
	for i, rfd := range fds {
		files[i] = os.NewFile(uintptr(rfd), "uio-capability")
	}
	return n, files, recvflags, nil
}

// parseRights extracts every SCM_RIGHTS descriptor. foreign reports other control messages.
func parseRights(oob []byte) (fds []int, foreign bool, err error) {
	if len(oob) == 0 {
		return nil, false, nil
	}

	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, false, err
	}

	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET || msgs[i].Header.Type != unix.SCM_RIGHTS {
			foreign = true
			continue
		}
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			return fds, foreign, err
		}
		fds = append(fds, rights...)
	}
	return fds, foreign, nil
}

// send writes data and the descriptors of caps with one sendmsg. caps stay owned by the caller.
func send(fd int, data []byte, caps []*os.File, flags int) error {
	if len(caps) > MaxDescriptorsPerMessage {
		return fmt.Errorf("%w: %d descriptors, at most %d allowed", ErrTooManyDescriptors, len(caps), MaxDescriptorsPerMessage)
	}

	var oob []byte
	if len(caps) > 0 {
		fds := make([]int, len(caps))
		for i, f := range caps {
			rfd, err := rawFd(f)
			if err != nil {
				return fmt.Errorf("invalid capability %d: %w", i, err)
			}
			fds[i] = rfd
		}
		oob = unix.UnixRights(fds...)
	}

	var n int
	var err error
	for {
		n, err = unix.SendmsgN(fd, data, oob, nil, flags|unix.MSG_NOSIGNAL)
		if err != unix.EINTR {
			break
		}
	}
	// the raw descriptors must stay valid until the kernel duplicated them
	runtime.KeepAlive(caps)

	if err != nil {
		if err == unix.EAGAIN {
			return transport.ErrWouldBlock
		}
		return fmt.Errorf("sendmsg failed: %w", err)
	}
	if n != len(data) {
		return &transport.PartialSendError{Sent: n, Total: len(data)}
	}
	return nil
}

// rawFd returns the descriptor of f without switching it to blocking mode (as f.Fd() would)
func rawFd(f *os.File) (int, error) {
	if f == nil {
		return -1, os.ErrInvalid
	}
	rc, err := f.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	if err := rc.Control(func(p uintptr) { fd = int(p) }); err != nil {
		return -1, err
	}
	return fd, nil
}

func closeFds(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
