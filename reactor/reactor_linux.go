//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const maxEvents = 128

// epollReactor is a level-triggered epoll reactor.
type epollReactor struct {
	epfd      int
	callbacks sync.Map // map[uintptr]FDCallback
	events    [maxEvents]unix.EpollEvent
	closed    atomic.Bool
}

// New constructs the platform reactor.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll create")
	}
	return &epollReactor{epfd: epfd}, nil
}

func toEpoll(events FDEventType) uint32 {
	var ev uint32
	if events&EventRead != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Register adds fd to the epoll watch list.
func (r *epollReactor) Register(fd uintptr, events FDEventType, cb FDCallback) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.callbacks.Store(fd, cb)
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		r.callbacks.Delete(fd)
		return errors.Wrap(err, "epoll ctl add")
	}
	return nil
}

// Modify changes the interest set of fd.
func (r *epollReactor) Modify(fd uintptr, events FDEventType) error {
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev); err != nil {
		return errors.Wrap(err, "epoll ctl mod")
	}
	return nil
}

// Unregister removes fd from the epoll watch list.
func (r *epollReactor) Unregister(fd uintptr) error {
	r.callbacks.Delete(fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return errors.Wrap(err, "epoll ctl del")
	}
	return nil
}

// Poll waits for events and runs the callbacks of ready descriptors.
// Only one goroutine may poll at a time.
func (r *epollReactor) Poll(timeoutMs int) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if timeoutMs < 0 {
		timeoutMs = -1
	}
	n, err := unix.EpollWait(r.epfd, r.events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return errors.Wrap(err, "epoll wait")
	}
	for i := 0; i < n; i++ {
		ev := r.events[i]
		fd := uintptr(ev.Fd)
		val, ok := r.callbacks.Load(fd)
		if !ok {
			continue
		}
		var kind FDEventType
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			kind |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			kind |= EventWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			kind |= EventError
		}
		dispatch(val.(FDCallback), fd, kind)
	}
	return nil
}

// dispatch keeps the reactor alive when a callback panics.
func dispatch(cb FDCallback, fd uintptr, kind FDEventType) {
	defer func() { _ = recover() }()
	cb(fd, kind)
}

// Close closes the epoll instance.
func (r *epollReactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(r.epfd)
}
