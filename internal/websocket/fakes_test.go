// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package websocket

import (
	"testing"
	"time"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/fake"
	"github.com/momentics/hioload-wsengine/protocol"
)

type event struct {
	kind    string
	payload string
	isText  bool
	normal  bool
}

// recorder is a Handler and PingObserver that logs callbacks.
type recorder struct {
	events    []event
	onMessage func(c api.Conn, payload []byte, isText bool)
}

func (r *recorder) OnOpen(c api.Conn) { r.events = append(r.events, event{kind: "open"}) }
func (r *recorder) OnMessage(c api.Conn, payload []byte, isText bool) {
	r.events = append(r.events, event{kind: "message", payload: string(payload), isText: isText})
	if r.onMessage != nil {
		r.onMessage(c, payload, isText)
	}
}
func (r *recorder) OnPing(c api.Conn, payload []byte) {
	r.events = append(r.events, event{kind: "ping", payload: string(payload)})
}
func (r *recorder) OnShutdown(c api.Conn) { r.events = append(r.events, event{kind: "shutdown"}) }
func (r *recorder) OnClose(c api.Conn, normal bool) {
	r.events = append(r.events, event{kind: "close", normal: normal})
}

func (r *recorder) count(kind string) int {
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind string) (event, bool) {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].kind == kind {
			return r.events[i], true
		}
	}
	return event{}, false
}

type harness struct {
	conn  *Connection
	sock  *fake.Socket
	sched *fake.Scheduler
	loop  *fake.Loop
	h     *recorder
	ended int
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	hs := &harness{sock: fake.NewSocket(), sched: fake.NewScheduler(), loop: &fake.Loop{}, h: &recorder{}}
	opts := Options{
		ID:           "c1",
		MaxMessage:   1024,
		PingInterval: 10 * time.Second,
		CloseTimeout: 2 * time.Second,
		Post:         hs.loop.Post,
		Scheduler:    hs.sched,
		OnTerminal:   func(*Connection) { hs.ended++ },
	}
	if mutate != nil {
		mutate(&opts)
	}
	hs.conn = NewConnection(hs.sock, hs.h, opts)
	hs.conn.Open()
	return hs
}

var peer = protocol.Codec{Role: protocol.RoleClient, MaxPayload: 1 << 24}

func (hs *harness) send(op protocol.Opcode, payload []byte, fin bool) {
	hs.conn.Feed(peer.EncodeFrame(op, payload, fin))
}

func (hs *harness) tick(d time.Duration) {
	hs.sched.Advance(d)
	hs.loop.Drain()
}

// frames decodes everything the connection wrote so far.
func (hs *harness) frames(t *testing.T) []protocol.Frame {
	t.Helper()
	out, err := hs.sock.Frames()
	if err != nil {
		t.Fatalf("decode server output: %v", err)
	}
	return out
}

func closeCode(t *testing.T, f protocol.Frame) protocol.CloseCode {
	t.Helper()
	if f.Opcode != protocol.OpcodeClose {
		t.Fatalf("expected close frame, got %v", f.Opcode)
	}
	code, _, err := protocol.ParseClosePayload(f.Payload)
	if err != nil {
		t.Fatalf("close payload: %v", err)
	}
	return code
}
