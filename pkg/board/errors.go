package board

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind classifies a board API failure.
type Kind int

const (
	// KindUnreachable means no usable response was received (transport
	// failure, attempt timeout, unreadable body).
	KindUnreachable Kind = iota + 1
	// KindRejected means the service answered with a non-2xx status, a
	// GraphQL errors array or an undecodable payload.
	KindRejected
	// KindNotFound means the call succeeded but no matching item, board or
	// column came back.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindRejected:
		return "rejected"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against *Error.
var (
	ErrUnreachable = eris.New("board: remote unreachable")
	ErrRejected    = eris.New("board: remote rejected request")
	ErrNotFound    = eris.New("board: not found")
)

// Error is the typed failure returned by every Client method once retries
// are exhausted.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Attempts   int
	Messages   []string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "board %s: %s after %d attempt(s)", e.Op, e.Kind, e.Attempts)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if len(e.Messages) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Messages, "; "))
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrNotFound:
		return e.Kind == KindNotFound
	}
	return false
}

// Retryable reports whether another attempt could succeed. Only
// connectivity and gateway level failures qualify; a successful response
// saying "not found" is final.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnreachable || e.Kind == KindRejected
}
