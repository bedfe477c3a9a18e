package network

import (
	"errors"
	"net"
	"syscall"

	cerrors "github.com/najoast/sngo/errors"
)

// IsClosed reports whether err comes from using a closed socket.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// IsTemporary reports whether an accept error is transient: the process or
// system ran out of descriptors or buffers, a pending connection was reset
// before it was accepted, or the operation timed out. The listener may retry
// after such errors.
func IsTemporary(err error) bool {
	if err == nil || IsClosed(err) {
		return false
	}
	for _, errno := range []syscall.Errno{
		syscall.EMFILE,
		syscall.ENFILE,
		syscall.ENOBUFS,
		syscall.ENOMEM,
		syscall.ECONNABORTED,
		syscall.ECONNRESET,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ErrorKind names the class of an accept error for metrics and logs. The
// "connection" kind concerns one accepted stream only; the listener itself
// is fine.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsClosed(err):
		return "closed"
	case cerrors.Is(err, cerrors.ErrPeerAddress):
		return "connection"
	case IsTemporary(err):
		return "temporary"
	default:
		return "fatal"
	}
}
