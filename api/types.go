// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations.

package api

import (
	"time"

	"github.com/momentics/hioload-wsengine/protocol"
)

// ConnState enumerates the protocol state of a WebSocket connection.
type ConnState int

const (
	StateHandshakePending ConnState = iota
	StateOpen
	StateClosingSent
	StateClosed
	StateAborted
)

func (s ConnState) String() string {
	switch s {
	case StateHandshakePending:
		return "handshake-pending"
	case StateOpen:
		return "open"
	case StateClosingSent:
		return "closing-sent"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s ConnState) Terminal() bool { return s == StateClosed || s == StateAborted }

// Conn is the application's view of one connection.
//
// Every method except Defer and ID must be called from the owning worker,
// i.e. from inside a Handler callback or a Defer task.
type Conn interface {
	// ID is a unique, stable identifier.
	ID() string
	State() ConnState
	// Subprotocol returns the negotiated Sec-WebSocket-Protocol, if any.
	Subprotocol() string
	WriteText(p []byte) error
	WriteBinary(p []byte) error
	Ping(p []byte) error
	// Close starts the close handshake.
	Close(code protocol.CloseCode, reason string) error
	// Defer schedules task on the owning worker. Safe from any goroutine.
	Defer(task func(c Conn)) error
	Stats() ConnStats
}

// ConnStats is a snapshot of per-connection counters.
type ConnStats struct {
	BytesReceived    int64
	BytesSent        int64
	FramesReceived   int64
	FramesSent       int64
	MessagesReceived int64
	MessagesSent     int64
	LastPong         time.Time
}

// MessageKinds selects which data message kinds an endpoint accepts.
// Messages of any other kind end the connection with close code 1003.
type MessageKinds uint8

const (
	AcceptText MessageKinds = 1 << iota
	AcceptBinary

	AcceptAll = AcceptText | AcceptBinary
)

// Accepts reports whether a message of the given kind is allowed.
func (k MessageKinds) Accepts(isText bool) bool {
	if isText {
		return k&AcceptText != 0
	}
	return k&AcceptBinary != 0
}
