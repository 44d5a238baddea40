// File: api/handler.go
// Package api defines the application Handler contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Handler receives the lifecycle and message callbacks of one connection.
//
// All callbacks run synchronously on the worker that owns the connection and
// are never invoked concurrently for the same connection. They must not
// block: long work belongs on another goroutine, which can come back to the
// connection through Conn.Defer.
type Handler interface {
	// OnOpen is called once the handshake completed and the connection is open.
	OnOpen(c Conn)
	// OnMessage delivers one complete message. payload is only valid until
	// OnMessage returns; copy it to retain it.
	OnMessage(c Conn, payload []byte, isText bool)
	// OnShutdown is called when the host is shutting down, before the
	// connection is closed with a going-away status.
	OnShutdown(c Conn)
	// OnClose is called exactly once when the connection ends. normal is
	// true only after a completed close handshake.
	OnClose(c Conn, normal bool)
}

// PingObserver is implemented by handlers that want to see inbound pings.
// The pong is sent by the engine regardless.
type PingObserver interface {
	OnPing(c Conn, payload []byte)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are no-ops.
type HandlerFuncs struct {
	Open     func(c Conn)
	Message  func(c Conn, payload []byte, isText bool)
	Shutdown func(c Conn)
	Close    func(c Conn, normal bool)
}

func (h HandlerFuncs) OnOpen(c Conn) {
	if h.Open != nil {
		h.Open(c)
	}
}

func (h HandlerFuncs) OnMessage(c Conn, payload []byte, isText bool) {
	if h.Message != nil {
		h.Message(c, payload, isText)
	}
}

func (h HandlerFuncs) OnShutdown(c Conn) {
	if h.Shutdown != nil {
		h.Shutdown(c)
	}
}

func (h HandlerFuncs) OnClose(c Conn, normal bool) {
	if h.Close != nil {
		h.Close(c, normal)
	}
}
