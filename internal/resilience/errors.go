package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Retryable is implemented by errors that know whether they are worth
// another attempt. It takes precedence over every other check.
type Retryable interface {
	Retryable() bool
}

// IsTransient returns true if the error (or any error in its chain) is a
// Retryable reporting true or a network-level failure (timeouts, connection
// resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped transport errors sometimes only survive as text.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"connection refused",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"tls handshake timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
