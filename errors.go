package rsp

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport reports that a request could not be delivered or was answered with a
	// JSON-RPC error.
	ErrTransport = errors.New("transport error")
	// ErrTimeout reports that a correlated operation did not observe its event in time.
	ErrTimeout = errors.New("timed out")
	// ErrValidation reports a caller input rejected before any I/O.
	ErrValidation = errors.New("invalid argument")
	// ErrNoMatch reports that a discovery query returned nothing usable.
	ErrNoMatch = errors.New("no match")
	// ErrRejected reports an acknowledgement carrying an error or cancel status.
	ErrRejected = errors.New("rejected by server")
	// ErrNotConnected reports a call made before Connect or after Close.
	ErrNotConnected = errors.New("client not connected")

	// ErrClosed reports that the connection closed while a call was outstanding.
	ErrClosed = fmt.Errorf("%w: connection closed", ErrTransport)
)

// StatusError carries a non-OK Status returned by the remote.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	if e.Status.Message == "" {
		return fmt.Sprintf("status %s", e.Status.Severity)
	}
	return fmt.Sprintf("status %s: %s", e.Status.Severity, e.Status.Message)
}

// Unwrap lets errors.Is match ErrRejected.
func (e *StatusError) Unwrap() error {
	return ErrRejected
}

// statusCheck returns an Operation check failing when the acknowledgement decoded into
// status is not OK.
func statusCheck(status *Status) func() error {
	return func() error {
		return status.Err()
	}
}
