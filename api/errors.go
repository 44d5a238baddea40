// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-wsengine.

package api

import (
	"github.com/pkg/errors"
)

// Common errors used across the library.
var (
	ErrTransportClosed   = errors.New("transport is closed")
	ErrConnectionNotOpen = errors.New("websocket: connection is not open")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrWorkerStopped     = errors.New("worker is stopped")
	ErrOperationTimeout  = errors.New("operation timeout")
	ErrNotSupported      = errors.New("operation not supported")
)

// TransportError reports a failure of the underlying socket. It is fatal
// for the connection: no close frame is attempted afterwards.
type TransportError struct {
	Op  string // "read", "write" or "close"
	Err error
}

func (e *TransportError) Error() string {
	return "websocket: transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError annotates err with the failed operation and a stack trace.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: errors.WithStack(err)}
}

// IsTransportError reports whether err stems from the socket.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
