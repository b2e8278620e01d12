package rpc

import (
	"context"
	"errors"
	"fmt"
)

// TransportError is returned for every failed call: network errors, timeouts,
// non-2xx responses and undecodable bodies. Status is 0 when no HTTP response
// was received.
type TransportError struct {
	Endpoint Endpoint
	Status   int
	Message  string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("kef %s failed: http %d: %s", e.Endpoint, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("kef %s failed: %s: %v", e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("kef %s failed: %s", e.Endpoint, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call was cut off by a deadline.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
