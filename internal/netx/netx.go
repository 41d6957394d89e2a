// Package netx classifies socket errors so polling loops can tell
// transient conditions from real failures.
package netx

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// IsTransient reports whether err is a timeout or would-block condition
// that a polling loop should silently continue past.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EWOULDBLOCK)
}

// IsClosed reports whether err means the peer or a local shutdown closed
// the connection, so the loop should tear down rather than retry the read.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
