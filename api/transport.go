// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the socket abstraction the engine writes to, and the sink the
// reactor delivers socket events into.

package api

// Socket is the write side of an upgraded connection as seen by the engine.
// It is owned by the reactor; the engine only references it.
type Socket interface {
	// Write attempts a non-blocking write. It may accept fewer bytes than
	// offered without error; the caller retries the rest after OnWritable.
	Write(p []byte) (n int, err error)

	// Close releases the socket once everything accepted by Write has been
	// handed to the OS.
	Close() error

	// Abort closes the socket immediately, discarding unsent bytes. It must
	// work after Close, cutting short a flush the peer is not draining.
	Abort() error

	// RawFD returns the OS-level descriptor, or ^uintptr(0) when there is none.
	RawFD() uintptr
}

// SocketSink receives socket events. Every method is invoked on the worker
// that owns the connection.
type SocketSink interface {
	// Feed delivers inbound bytes. p is only valid during the call.
	Feed(p []byte)
	// OnWritable signals that the socket accepts more data.
	OnWritable()
	// OnTransportError reports a fatal read/write failure or peer reset.
	OnTransportError(err error)
}
