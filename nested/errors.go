package nested

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalReadState is a read with no content present or past the end
	// of the stream.
	ErrIllegalReadState = errors.New("nested: illegal read state")
	// ErrWritePending is a write issued while another is in flight.
	ErrWritePending = errors.New("nested: write pending")
	// ErrClosed is an operation on a closed input or output.
	ErrClosed = errors.New("nested: closed")
)

// UsageError reports a misuse of the read/write contract by the caller. It is
// never retried or turned into a response.
type UsageError struct {
	Op  string
	Err error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("nested: usage error in %s: %v", e.Op, e.Err)
}

func (e *UsageError) Unwrap() error { return e.Err }

// StreamError reports a failure of the outer request or response stream.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("nested: %s failed: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// IsUsageError reports whether err is, or wraps, a *UsageError.
func IsUsageError(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// IsStreamError reports whether err is, or wraps, a *StreamError.
func IsStreamError(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}
