// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"bytes"
	"errors"
	"sync"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/protocol"
)

// ErrSocketClosed is returned by Write after Close.
var ErrSocketClosed = errors.New("fake: write on closed socket")

// Socket is an in-memory api.Socket that records every accepted byte.
type Socket struct {
	mu       sync.Mutex
	wire     bytes.Buffer
	limit    int
	writeErr error
	closed   bool
	closes   int
	aborts   int
}

var _ api.Socket = (*Socket)(nil)

// NewSocket returns an empty socket with no write limit.
func NewSocket() *Socket { return &Socket{} }

// SetLimit caps the bytes accepted per Write. Zero means unlimited.
func (s *Socket) SetLimit(n int) {
	s.mu.Lock()
	s.limit = n
	s.mu.Unlock()
}

// SetWriteError makes subsequent writes fail with err.
func (s *Socket) SetWriteError(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *Socket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.closed {
		return 0, ErrSocketClosed
	}
	n := len(p)
	if s.limit > 0 && n > s.limit {
		n = s.limit
	}
	s.wire.Write(p[:n])
	return n, nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *Socket) Abort() error {
	s.mu.Lock()
	s.closed = true
	s.aborts++
	s.mu.Unlock()
	return nil
}

func (s *Socket) RawFD() uintptr { return ^uintptr(0) }

// Closed reports whether Close was called.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Closes counts Close calls.
func (s *Socket) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Aborts counts Abort calls.
func (s *Socket) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

// Len is the number of bytes written so far.
func (s *Socket) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wire.Len()
}

// Bytes returns a copy of everything written so far.
func (s *Socket) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.wire.Bytes()...)
}

// Frames decodes the written bytes as unmasked server frames, the way a
// client would read them. Payloads are copies.
func (s *Socket) Frames() ([]protocol.Frame, error) {
	peer := protocol.Codec{Role: protocol.RoleClient, MaxPayload: 1 << 30}
	data := s.Bytes()
	var out []protocol.Frame
	for len(data) > 0 {
		f, n, err := peer.DecodeFrame(data)
		if err != nil {
			return out, err
		}
		f.Payload = append([]byte(nil), f.Payload...)
		out = append(out, f)
		data = data[n:]
	}
	return out, nil
}
