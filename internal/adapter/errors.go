package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Reason classifies adapter failures.
type Reason string

// Failure reasons.
const (
	ReasonUnavailable Reason = "unavailable"
	ReasonTransport   Reason = "transport"
	ReasonTimeout     Reason = "timeout"
	ReasonRateLimited Reason = "rate_limited"
	ReasonParse       Reason = "parse"
	ReasonEmpty       Reason = "empty"
)

// ErrEmpty is the cause attached to empty results.
var ErrEmpty = errors.New("no posts found")

// Error is a classified adapter failure.
type Error struct {
	Reason Reason
	Err    error
}

// NewError wraps err with reason.
func NewError(reason Reason, err error) *Error {
	if err == nil && reason == ReasonEmpty {
		err = ErrEmpty
	}
	return &Error{Reason: reason, Err: err}
}

// Parse wraps err as a payload parse failure.
func Parse(err error) *Error {
	return NewError(ReasonParse, err)
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int {
	return e.Code
}

// httpStatuser is implemented by transport errors that carry a status code.
type httpStatuser interface {
	HTTPStatus() int
}

// Classify maps err onto the taxonomy. Already classified errors are returned
// unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ReasonTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(ReasonTimeout, err)
	}
	var statusErr httpStatuser
	if errors.As(err, &statusErr) && statusErr.HTTPStatus() == http.StatusTooManyRequests {
		return NewError(ReasonRateLimited, err)
	}
	return NewError(ReasonTransport, err)
}

// Guard runs fetch and converts a panic into a parse failure so a malformed
// payload can never escape the adapter boundary.
func Guard(source string, fetch func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(source, Parse(fmt.Errorf("panic: %v", r)))
		}
	}()
	return fetch()
}
