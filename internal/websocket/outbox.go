// File: internal/websocket/outbox.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound byte queue flushed with non-blocking socket writes.

package websocket

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-wsengine/api"
)

// chunk is one encoded frame sequence and how much of it was written.
type chunk struct {
	buf []byte
	off int
}

// outbox queues encoded frames until the socket accepts them.
type outbox struct {
	q       *queue.Queue
	pending int
}

func newOutbox() *outbox {
	return &outbox{q: queue.New()}
}

func (o *outbox) push(b []byte) {
	if len(b) == 0 {
		return
	}
	o.q.Add(&chunk{buf: b})
	o.pending += len(b)
}

func (o *outbox) empty() bool { return o.q.Length() == 0 }

// bytes returns the number of queued bytes not yet accepted by the socket.
func (o *outbox) bytes() int { return o.pending }

// flush writes queued chunks in order until the socket stops accepting
// data. It returns the number of bytes written.
func (o *outbox) flush(sock api.Socket) (int, error) {
	written := 0
	for o.q.Length() > 0 {
		c := o.q.Peek().(*chunk)
		n, err := sock.Write(c.buf[c.off:])
		if n > 0 {
			c.off += n
			written += n
			o.pending -= n
		}
		if err != nil {
			return written, err
		}
		if c.off < len(c.buf) {
			// Socket is full; resume on OnWritable.
			return written, nil
		}
		o.q.Remove()
	}
	return written, nil
}

// reset drops everything queued.
func (o *outbox) reset() {
	for o.q.Length() > 0 {
		o.q.Remove()
	}
	o.pending = 0
}
