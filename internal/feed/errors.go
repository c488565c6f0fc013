package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var ErrNotFound = errors.New("not found")

// NetworkError reports an unreachable backend, a timeout or a server-side failure.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: backend returned %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// ProtocolError reports a response the client could not interpret.
type ProtocolError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected response %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: unexpected response: %v", e.Op, e.URL, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

type Rejection struct {
	Index int
	Err   error
}

// ValidationError lists feed entries that were dropped for missing required fields.
type ValidationError struct {
	Rejected []Rejection
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Rejected))
	for _, r := range e.Rejected {
		parts = append(parts, fmt.Sprintf("#%d: %v", r.Index, r.Err))
	}
	return fmt.Sprintf("%d invalid call(s) dropped: %s", len(e.Rejected), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() []error {
	out := make([]error, 0, len(e.Rejected))
	for _, r := range e.Rejected {
		out = append(out, r.Err)
	}
	return out
}

func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

func IsProtocol(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
