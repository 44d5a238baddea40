//go:build linux
// +build linux

// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/pool"
	"github.com/momentics/hioload-wsengine/reactor"
)

// FDSocket owns a non-blocking descriptor polled by a reactor. Reads happen
// on the reactor goroutine; read interest is suspended until the worker has
// consumed the buffer. Writes go straight to the kernel from the worker.
type FDSocket struct {
	fd   int
	r    reactor.Reactor
	pool *pool.BytePool
	post PostFunc
	sink api.SocketSink

	mu        sync.Mutex
	wantRead  bool
	wantWrite bool
	closed    bool
}

var _ api.Socket = (*FDSocket)(nil)

// NewFDSocket takes over conn's descriptor. conn is closed; the socket
// keeps a duplicate. It fails for connections without a raw descriptor.
func NewFDSocket(conn net.Conn, r reactor.Reactor, bufs *pool.BytePool, post PostFunc) (*FDSocket, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, api.ErrNotSupported
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "syscall conn")
	}
	fd := -1
	var dupErr error
	if err := raw.Control(func(s uintptr) {
		fd, dupErr = unix.Dup(int(s))
	}); err != nil {
		return nil, errors.Wrap(err, "raw control")
	}
	if dupErr != nil {
		return nil, errors.Wrap(dupErr, "dup")
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "set nonblock")
	}
	_ = conn.Close()
	if bufs == nil {
		bufs = pool.NewBytePool(0)
	}
	return &FDSocket{fd: fd, r: r, pool: bufs, post: post}, nil
}

// Start registers the descriptor with the reactor.
func (s *FDSocket) Start(sink api.SocketSink) error {
	s.sink = sink
	s.mu.Lock()
	s.wantRead = true
	s.mu.Unlock()
	return s.r.Register(uintptr(s.fd), reactor.EventRead, s.onEvent)
}

// RawFD returns the descriptor.
func (s *FDSocket) RawFD() uintptr { return uintptr(s.fd) }

// Write performs a non-blocking write. On EAGAIN it returns the bytes
// written so far and arms write interest.
func (s *FDSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, api.ErrTransportClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(s.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == unix.EAGAIN:
			s.setInterest(func() { s.wantWrite = true })
			return written, nil
		case err == unix.EINTR:
			continue
		case err != nil:
			return written, errors.Wrap(err, "write")
		}
	}
	return written, nil
}

// Close unregisters and closes the descriptor. Bytes already written stay
// queued in the kernel.
//
// The descriptor is closed under mu, so a read racing with Close sees
// closed and never touches a number the kernel may have handed out again.
func (s *FDSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.r.Unregister(uintptr(s.fd))
	return unix.Close(s.fd)
}

// Abort is Close: nothing is buffered in user space.
func (s *FDSocket) Abort() error { return s.Close() }

func (s *FDSocket) setInterest(change func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	change()
	var ev reactor.FDEventType
	if s.wantRead {
		ev |= reactor.EventRead
	}
	if s.wantWrite {
		ev |= reactor.EventWrite
	}
	_ = s.r.Modify(uintptr(s.fd), ev)
}

// onEvent runs on the reactor goroutine.
func (s *FDSocket) onEvent(_ uintptr, ev reactor.FDEventType) {
	if ev&reactor.EventWrite != 0 {
		s.setInterest(func() { s.wantWrite = false })
		_ = s.post(s.sink.OnWritable)
	}
	if ev&(reactor.EventRead|reactor.EventError) != 0 {
		s.read()
	}
}

func (s *FDSocket) read() {
	buf := s.pool.Get()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.pool.Put(buf)
		return
	}
	n, err := unix.Read(s.fd, *buf)
	s.mu.Unlock()
	switch {
	case n > 0:
		s.setInterest(func() { s.wantRead = false })
		b := buf
		if perr := s.post(func() {
			s.sink.Feed((*b)[:n])
			s.pool.Put(b)
			s.setInterest(func() { s.wantRead = true })
		}); perr != nil {
			s.pool.Put(buf)
		}
	case err == unix.EAGAIN || err == unix.EINTR:
		s.pool.Put(buf)
	default:
		s.pool.Put(buf)
		if err == nil {
			err = io.EOF
		}
		rerr := errors.Wrap(err, "read")
		// Stop polling; the descriptor stays open until the connection closes it.
		s.mu.Lock()
		if !s.closed {
			_ = s.r.Unregister(uintptr(s.fd))
		}
		s.mu.Unlock()
		_ = s.post(func() { s.sink.OnTransportError(rerr) })
	}
}
