package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Request is the input to a single provider call.
type Request struct {
	Message    string
	UserID     string
	UserEmail  string
	Credential string // empty when absent
}

// Client generates reply text for a request. Implementations return a non-nil
// error for every failure and never return empty text with a nil error.
type Client interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// TransportError covers network failures and non-2xx statuses.
type TransportError struct {
	Status int // 0 when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider transport: status=%d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("provider transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError means the call succeeded but no usable text came back.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "provider malformed response: " + e.Reason
}

// TimeoutError means the call did not finish within its deadline.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider timeout: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Error classes reported in logs and events.
const (
	ClassTransport = "transport"
	ClassMalformed = "malformed"
	ClassTimeout   = "timeout"
	ClassCanceled  = "canceled"
	ClassUnknown   = "unknown"
)

// Classify maps an error to one of the Class* constants.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var timeoutErr *TimeoutError
	var malformedErr *MalformedResponseError
	var transportErr *TransportError
	switch {
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.As(err, &malformedErr):
		return ClassMalformed
	case errors.As(err, &transportErr):
		return ClassTransport
	default:
		return ClassUnknown
	}
}

// Normalize converts a raw call error into the provider taxonomy. Context
// deadline errors become *TimeoutError; cancellation is passed through.
func Normalize(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var timeoutErr *TimeoutError
	var malformedErr *MalformedResponseError
	var transportErr *TransportError
	if errors.As(err, &timeoutErr) || errors.As(err, &malformedErr) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	if errors.As(err, &transportErr) {
		return err
	}
	return &TransportError{Err: err}
}
