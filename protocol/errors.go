// File: protocol/errors.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error taxonomy shared by the codec, the reassembler and the handshake validator.

package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNeedMoreData is returned by DecodeFrame when the buffer does not yet
// hold a complete frame. Nothing was consumed; retry with more bytes.
var ErrNeedMoreData = errors.New("websocket: need more data")

// ProtocolError is a violation by the remote peer. Code is the close code
// the connection must be terminated with.
type ProtocolError struct {
	Code   CloseCode
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("websocket: %s (close %d)", e.Reason, e.Code)
}

func newProtocolError(reason string) *ProtocolError {
	return &ProtocolError{Code: CloseProtocolError, Reason: reason}
}

// Frame level violations.
var (
	ErrReservedBits        = newProtocolError("reserved bits set")
	ErrReservedOpcode      = newProtocolError("reserved opcode")
	ErrControlTooLarge     = newProtocolError("control frame payload exceeds 125 bytes")
	ErrControlFragmented   = newProtocolError("fragmented control frame")
	ErrMaskRequired        = newProtocolError("unmasked frame from client")
	ErrMaskUnexpected      = newProtocolError("masked frame from server")
	ErrInvalidLength       = newProtocolError("invalid payload length encoding")
	ErrInvalidClosePayload = newProtocolError("malformed close frame payload")
)

// Fragmentation violations.
var (
	ErrUnexpectedContinuation = newProtocolError("continuation frame without a message in progress")
	ErrExpectedContinuation   = newProtocolError("new data frame while a fragmented message is in progress")
)

// ErrMessageTooLarge is raised when a frame or the accumulated message
// exceeds the configured maximum message size.
var ErrMessageTooLarge = &ProtocolError{Code: CloseMessageTooBig, Reason: "message too large"}

// ErrInvalidUTF8 is raised for text payloads that are not valid UTF-8 when
// validation is enabled.
var ErrInvalidUTF8 = &ProtocolError{Code: CloseInvalidPayloadData, Reason: "invalid UTF-8 in text message"}

// ErrUnsupportedData is raised when a message kind the endpoint does not
// accept arrives.
var ErrUnsupportedData = &ProtocolError{Code: CloseUnsupportedData, Reason: "unsupported message type"}

// CloseCodeOf returns the close code carried by a protocol error, or
// CloseProtocolError when err is not a *ProtocolError.
func CloseCodeOf(err error) CloseCode {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CloseProtocolError
}

// ErrHandshakeRejected is matched by every handshake validation failure.
var ErrHandshakeRejected = errors.New("websocket: handshake rejected")

// HandshakeError describes why an upgrade request was rejected.
type HandshakeError struct {
	Reason string
	// Header is the response header the HTTP layer should send along with
	// its error status (e.g. Sec-WebSocket-Version on a version mismatch).
	Header http.Header
}

func (e *HandshakeError) Error() string {
	return "websocket: handshake rejected: " + e.Reason
}

// Unwrap lets errors.Is(err, ErrHandshakeRejected) succeed.
func (e *HandshakeError) Unwrap() error { return ErrHandshakeRejected }
