package calc

import "fmt"

// kindError tags a failure with one of the package sentinels while keeping
// the underlying error in the chain, so errors.Is matches the sentinel and
// errors.As still reaches a *board.Error.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.msg + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

func withKind(kind, cause error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}
