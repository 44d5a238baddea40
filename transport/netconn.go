// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/pool"
)

// DefaultHighWater bounds the bytes a NetSocket buffers before Write starts
// accepting partial input.
const DefaultHighWater = 1 << 20

// DefaultLinger bounds how long Close keeps flushing to a peer that stopped
// reading.
const DefaultLinger = 5 * time.Second

// PostFunc runs a task on the worker owning the socket's connection.
type PostFunc func(task func()) error

// NetSocket adapts a blocking net.Conn. A reader goroutine reads into pooled
// buffers and waits until the worker consumed each one before reading
// again. A writer goroutine drains bytes accepted by Write.
type NetSocket struct {
	conn      net.Conn
	pool      *pool.BytePool
	post      PostFunc
	highWater int
	linger    time.Duration

	mu          sync.Mutex
	cond        *sync.Cond
	pending     []byte
	spare       []byte
	wantNotify  bool
	closing     bool
	writeFailed error

	readerDone chan struct{}
	writerDone chan struct{}
}

var _ api.Socket = (*NetSocket)(nil)

// NewNetSocket wraps conn. Call Start to begin I/O.
func NewNetSocket(conn net.Conn, bufs *pool.BytePool, post PostFunc, highWater int) *NetSocket {
	if bufs == nil {
		bufs = pool.NewBytePool(0)
	}
	if highWater <= 0 {
		highWater = DefaultHighWater
	}
	s := &NetSocket{
		conn:       conn,
		pool:       bufs,
		post:       post,
		highWater:  highWater,
		linger:     DefaultLinger,
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the reader and writer goroutines delivering into sink.
func (s *NetSocket) Start(sink api.SocketSink) {
	go s.readLoop(sink)
	go s.writeLoop(sink)
}

// SetLinger sets the flush deadline applied by Close. Call before Start.
func (s *NetSocket) SetLinger(d time.Duration) {
	if d > 0 {
		s.linger = d
	}
}

// Write buffers as much of p as fits under the high-water mark. A short
// count asks the caller to wait for OnWritable.
func (s *NetSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeFailed != nil {
		return 0, s.writeFailed
	}
	if s.closing {
		return 0, api.ErrTransportClosed
	}
	room := s.highWater - len(s.pending)
	n := len(p)
	if n > room {
		n = room
		s.wantNotify = true
	}
	if n <= 0 {
		return 0, nil
	}
	s.pending = append(s.pending, p[:n]...)
	s.cond.Signal()
	return n, nil
}

// Close flushes buffered bytes in the background and then closes conn.
// A peer that does not drain them within the linger period is cut off.
func (s *NetSocket) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.cond.Signal()
	s.mu.Unlock()
	return s.conn.SetWriteDeadline(time.Now().Add(s.linger))
}

// Abort drops buffered bytes and closes conn at once, also after Close.
func (s *NetSocket) Abort() error {
	s.abort()
	return nil
}

// Wait blocks until both I/O goroutines exited.
func (s *NetSocket) Wait() {
	<-s.readerDone
	<-s.writerDone
}

// RawFD is not available for NetSocket.
func (s *NetSocket) RawFD() uintptr { return ^uintptr(0) }

func (s *NetSocket) readLoop(sink api.SocketSink) {
	defer close(s.readerDone)
	consumed := make(chan struct{}, 1)
	for {
		buf := s.pool.Get()
		n, err := s.conn.Read(*buf)
		if n > 0 {
			b := buf
			if perr := s.post(func() {
				sink.Feed((*b)[:n])
				consumed <- struct{}{}
			}); perr != nil {
				s.pool.Put(buf)
				s.abort()
				return
			}
			<-consumed
		}
		s.pool.Put(buf)
		if err != nil {
			if s.isClosing() {
				return
			}
			rerr := errors.Wrap(err, "read")
			_ = s.post(func() { sink.OnTransportError(rerr) })
			s.abort()
			return
		}
	}
}

func (s *NetSocket) writeLoop(sink api.SocketSink) {
	defer close(s.writerDone)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closing {
			s.cond.Wait()
		}
		if len(s.pending) == 0 && s.closing {
			s.mu.Unlock()
			_ = s.conn.Close()
			return
		}
		out := s.pending
		s.pending = s.spare[:0]
		notify := s.wantNotify
		s.wantNotify = false
		s.mu.Unlock()

		_, err := s.conn.Write(out)

		s.mu.Lock()
		s.spare = out[:0]
		if err != nil {
			s.writeFailed = errors.Wrap(err, "write")
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				werr := s.writeFailed
				_ = s.post(func() { sink.OnTransportError(werr) })
			}
			_ = s.conn.Close()
			return
		}
		s.mu.Unlock()
		if notify {
			_ = s.post(sink.OnWritable)
		}
	}
}

func (s *NetSocket) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *NetSocket) abort() {
	s.mu.Lock()
	s.closing = true
	s.pending = nil
	s.cond.Signal()
	s.mu.Unlock()
	_ = s.conn.Close()
}
