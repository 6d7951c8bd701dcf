package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient_WrappedRetryable(t *testing.T) {
	wrapped := fmt.Errorf("graphql call failed: %w", retryableErr{retry: true})
	if !IsTransient(wrapped) {
		t.Error("expected wrapped Retryable to be transient")
	}
}

func TestIsTransient_RetryableWins(t *testing.T) {
	// A Retryable saying no overrides an otherwise transient-looking message.
	err := fmt.Errorf("i/o timeout: %w", retryableErr{retry: false})
	if IsTransient(err) {
		t.Error("Retryable() == false should not be transient")
	}
	if !IsTransient(retryableErr{retry: true}) {
		t.Error("Retryable() == true should be transient")
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	err := errors.New("invalid input: missing field")
	if IsTransient(err) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_DeadlineExceeded(t *testing.T) {
	err := fmt.Errorf("post board api: %w", context.DeadlineExceeded)
	if !IsTransient(err) {
		t.Error("deadline exceeded should be transient")
	}
}

func TestIsTransient_ConnectionErrors(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		err := fmt.Errorf("dial tcp: %w", errno)
		if !IsTransient(err) {
			t.Errorf("%v should be transient", errno)
		}
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsTransient(err) {
		t.Error("network timeout should be transient")
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	patterns := []string{
		"connection reset by peer",
		"dial tcp 127.0.0.1:1: connect: connection refused",
		"broken pipe",
		"TLS handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range patterns {
		err := errors.New(p)
		if !IsTransient(err) {
			t.Errorf("expected %q to be transient", p)
		}
	}
}
