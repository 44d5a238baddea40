// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package websocket

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/fake"
	"github.com/momentics/hioload-wsengine/protocol"
)

func TestOpenInvokesHandler(t *testing.T) {
	hs := newHarness(t, nil)
	if hs.conn.State() != api.StateOpen {
		t.Fatalf("state %v", hs.conn.State())
	}
	if len(hs.h.events) != 1 || hs.h.events[0].kind != "open" {
		t.Fatalf("events %+v", hs.h.events)
	}
	hs.conn.Open()
	if hs.h.count("open") != 1 {
		t.Error("OnOpen ran twice")
	}
}

func TestFeedBeforeOpenIsBuffered(t *testing.T) {
	hs := &harness{sock: fake.NewSocket(), sched: fake.NewScheduler(), loop: &fake.Loop{}, h: &recorder{}}
	hs.conn = NewConnection(hs.sock, hs.h, Options{ID: "early", Post: hs.loop.Post, Scheduler: hs.sched})
	hs.send(protocol.OpcodeText, []byte("early bird"), true)
	if hs.h.count("message") != 0 {
		t.Fatal("message dispatched before open")
	}
	hs.conn.Open()
	if e, ok := hs.h.last("message"); !ok || e.payload != "early bird" {
		t.Fatalf("events %+v", hs.h.events)
	}
}

func TestDispatchTextAndBinary(t *testing.T) {
	hs := newHarness(t, nil)
	hs.send(protocol.OpcodeText, []byte("hello"), true)
	hs.send(protocol.OpcodeBinary, []byte{1, 2, 3}, true)

	if hs.h.count("message") != 2 {
		t.Fatalf("events %+v", hs.h.events)
	}
	text, bin := hs.h.events[1], hs.h.events[2]
	if !text.isText || text.payload != "hello" {
		t.Errorf("text %+v", text)
	}
	if bin.isText || bin.payload != "\x01\x02\x03" {
		t.Errorf("binary %+v", bin)
	}
	st := hs.conn.Stats()
	if st.MessagesReceived != 2 || st.FramesReceived != 2 {
		t.Errorf("stats %+v", st)
	}
}

func TestFeedByteAtATime(t *testing.T) {
	hs := newHarness(t, nil)
	var wire []byte
	wire = peer.AppendFrame(wire, protocol.OpcodeText, bytes.Repeat([]byte("a"), 200), true)
	wire = peer.AppendFrame(wire, protocol.OpcodeBinary, []byte("b"), true)
	for i := range wire {
		hs.conn.Feed(wire[i : i+1])
	}
	if hs.h.count("message") != 2 {
		t.Fatalf("events %+v", hs.h.events)
	}
	if e := hs.h.events[1]; len(e.payload) != 200 {
		t.Errorf("first payload %d bytes", len(e.payload))
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	hs := newHarness(t, nil)
	hs.send(protocol.OpcodePing, []byte("are you there"), true)

	frames := hs.frames(t)
	if len(frames) != 1 || frames[0].Opcode != protocol.OpcodePong {
		t.Fatalf("frames %+v", frames)
	}
	if string(frames[0].Payload) != "are you there" {
		t.Errorf("pong payload %q", frames[0].Payload)
	}
	if frames[0].Masked {
		t.Error("server frame is masked")
	}
	if e, ok := hs.h.last("ping"); !ok || e.payload != "are you there" {
		t.Error("OnPing not called")
	}
}

func TestPingBetweenFragments(t *testing.T) {
	hs := newHarness(t, nil)
	hs.send(protocol.OpcodeText, []byte("frag-"), false)
	hs.send(protocol.OpcodePing, []byte("mid"), true)

	frames := hs.frames(t)
	if len(frames) != 1 || frames[0].Opcode != protocol.OpcodePong || string(frames[0].Payload) != "mid" {
		t.Fatalf("pong not sent while message in progress: %+v", frames)
	}
	if hs.h.count("message") != 0 {
		t.Fatal("partial message dispatched")
	}

	hs.send(protocol.OpcodeContinuation, []byte("mented"), true)
	e, ok := hs.h.last("message")
	if !ok || e.payload != "frag-mented" || !e.isText {
		t.Fatalf("message %+v", e)
	}
}

func TestPongUpdatesLastPong(t *testing.T) {
	hs := newHarness(t, nil)
	before := hs.conn.Stats().LastPong
	hs.sched.Advance(time.Second)
	hs.send(protocol.OpcodePong, nil, true)
	if !hs.conn.Stats().LastPong.After(before) {
		t.Error("last pong not updated")
	}
	if len(hs.h.events) != 1 {
		t.Errorf("pong dispatched: %+v", hs.h.events)
	}
}

func TestPeerCloseEchoed(t *testing.T) {
	hs := newHarness(t, nil)
	hs.send(protocol.OpcodeClose, protocol.AppendClosePayload(nil, protocol.CloseGoingAway, "bye"), true)

	frames := hs.frames(t)
	if len(frames) != 1 || closeCode(t, frames[0]) != protocol.CloseGoingAway {
		t.Fatalf("frames %+v", frames)
	}
	if hs.conn.State() != api.StateClosed {
		t.Errorf("state %v", hs.conn.State())
	}
	if e, _ := hs.h.last("close"); !e.normal {
		t.Error("OnClose(false) after clean close")
	}
	if !hs.sock.Closed() || hs.ended != 1 {
		t.Errorf("socket closed=%v ended=%d", hs.sock.Closed(), hs.ended)
	}
}

func TestPeerCloseWithoutStatus(t *testing.T) {
	hs := newHarness(t, nil)
	hs.send(protocol.OpcodeClose, nil, true)
	frames := hs.frames(t)
	if len(frames) != 1 || closeCode(t, frames[0]) != protocol.CloseNormalClosure {
		t.Fatalf("frames %+v", frames)
	}
}

func TestInvalidClosePayload(t *testing.T) {
	hs := newHarness(t, nil)
	hs.send(protocol.OpcodeClose, []byte{0x03}, true)
	frames := hs.frames(t)
	if len(frames) != 1 || closeCode(t, frames[0]) != protocol.CloseProtocolError {
		t.Fatalf("frames %+v", frames)
	}
	if e, _ := hs.h.last("close"); e.normal {
		t.Error("OnClose(true) after protocol error")
	}
}

func TestOversizedMessageCloses1009(t *testing.T) {
	for _, fragments := range []int{1, 3} {
		hs := newHarness(t, func(o *Options) { o.MaxMessage = 100 })
		payload := bytes.Repeat([]byte("x"), 101)
		if fragments == 1 {
			hs.send(protocol.OpcodeBinary, payload, true)
		} else {
			hs.send(protocol.OpcodeBinary, payload[:40], false)
			hs.send(protocol.OpcodeContinuation, payload[40:80], false)
			hs.send(protocol.OpcodeContinuation, payload[80:], true)
		}
		frames := hs.frames(t)
		if len(frames) != 1 || closeCode(t, frames[0]) != protocol.CloseMessageTooBig {
			t.Fatalf("fragments=%d: frames %+v", fragments, frames)
		}
		if hs.h.count("message") != 0 {
			t.Errorf("fragments=%d: oversized message dispatched", fragments)
		}
		if e, _ := hs.h.last("close"); e.normal {
			t.Errorf("fragments=%d: normal close", fragments)
		}
	}
}

func TestMessageAtMaxSize(t *testing.T) {
	hs := newHarness(t, func(o *Options) { o.MaxMessage = 100 })
	hs.send(protocol.OpcodeBinary, bytes.Repeat([]byte("x"), 50), false)
	hs.send(protocol.OpcodeContinuation, bytes.Repeat([]byte("y"), 50), true)
	if e, ok := hs.h.last("message"); !ok || len(e.payload) != 100 {
		t.Fatalf("events %+v", hs.h.events)
	}
}

func TestUnmaskedFrameCloses1002(t *testing.T) {
	hs := newHarness(t, nil)
	server := protocol.Codec{Role: protocol.RoleServer}
	hs.conn.Feed(server.EncodeFrame(protocol.OpcodeText, []byte("plain"), true))
	frames := hs.frames(t)
	if len(frames) != 1 || closeCode(t, frames[0]) != protocol.CloseProtocolError {
		t.Fatalf("frames %+v", frames)
	}
	if hs.conn.State() != api.StateClosed {
		t.Errorf("state %v", hs.conn.State())
	}
}

func TestKeepaliveTimeout(t *testing.T) {
	hs := newHarness(t, nil)

	hs.tick(10 * time.Second)
	frames := hs.frames(t)
	if len(frames) != 1 || frames[0].Opcode != protocol.OpcodePing {
		t.Fatalf("expected ping, got %+v", frames)
	}

	hs.tick(10 * time.Second)
	frames = hs.frames(t)
	if len(frames) != 2 || closeCode(t, frames[1]) != protocol.CloseGoingAway {
		t.Fatalf("expected going-away close, got %+v", frames)
	}
	if hs.conn.State() != api.StateClosed {
		t.Errorf("state %v", hs.conn.State())
	}
	if e, ok := hs.h.last("close"); !ok || e.normal {
		t.Error("keepalive timeout must end with OnClose(false)")
	}
}

func TestKeepaliveSatisfiedByPong(t *testing.T) {
	hs := newHarness(t, nil)
	for i := 0; i < 5; i++ {
		hs.tick(10 * time.Second)
		hs.send(protocol.OpcodePong, nil, true)
	}
	if hs.conn.State() != api.StateOpen {
		t.Fatalf("state %v", hs.conn.State())
	}
	pings := 0
	for _, f := range hs.frames(t) {
		if f.Opcode == protocol.OpcodePing {
			pings++
		}
	}
	if pings != 5 {
		t.Errorf("pings sent %d", pings)
	}
}

func TestKeepaliveDisabled(t *testing.T) {
	hs := newHarness(t, func(o *Options) { o.PingInterval = 0 })
	hs.tick(time.Hour)
	if len(hs.frames(t)) != 0 || hs.sched.Scheduled() != 0 {
		t.Fatal("keepalive ran with zero interval")
	}
}

func TestTransportErrorAborts(t *testing.T) {
	hs := newHarness(t, nil)
	hs.send(protocol.OpcodeText, []byte("part"), false)
	hs.conn.OnTransportError(errors.New("connection reset by peer"))

	if hs.conn.State() != api.StateAborted {
		t.Fatalf("state %v", hs.conn.State())
	}
	if hs.sock.Len() != 0 {
		t.Error("close frame written after transport failure")
	}
	if e, _ := hs.h.last("close"); e.normal {
		t.Error("OnClose(true) on abort")
	}
	hs.conn.OnTransportError(errors.New("again"))
	if hs.h.count("close") != 1 {
		t.Error("OnClose called twice")
	}
	if err := hs.conn.WriteText([]byte("x")); !errors.Is(err, api.ErrConnectionNotOpen) {
		t.Errorf("write after abort: %v", err)
	}
}

func TestWriteErrorAborts(t *testing.T) {
	hs := newHarness(t, nil)
	hs.sock.SetWriteError(errors.New("broken pipe"))
	err := hs.conn.WriteBinary([]byte("x"))
	if !errors.Is(err, api.ErrTransportClosed) {
		t.Fatalf("got %v", err)
	}
	if hs.conn.State() != api.StateAborted {
		t.Errorf("state %v", hs.conn.State())
	}
}

func TestPartialWritesResumeOnWritable(t *testing.T) {
	hs := newHarness(t, nil)
	hs.sock.SetLimit(7)
	payload := bytes.Repeat([]byte("z"), 300)
	if err := hs.conn.WriteBinary(payload); err != nil {
		t.Fatal(err)
	}
	if hs.conn.Pending() == 0 {
		t.Fatal("expected pending bytes")
	}
	if err := hs.conn.WriteText([]byte("next")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100 && hs.conn.Pending() > 0; i++ {
		hs.conn.OnWritable()
	}
	if hs.conn.Pending() != 0 {
		t.Fatal("outbox never drained")
	}
	frames := hs.frames(t)
	if len(frames) != 2 || !bytes.Equal(frames[0].Payload, payload) || string(frames[1].Payload) != "next" {
		t.Fatalf("frames %+v", frames)
	}
}

func TestWriteFragmentation(t *testing.T) {
	hs := newHarness(t, func(o *Options) { o.FragmentSize = 4 })
	if err := hs.conn.WriteText([]byte("abcdefghij")); err != nil {
		t.Fatal(err)
	}
	frames := hs.frames(t)
	if len(frames) != 3 || frames[0].Opcode != protocol.OpcodeText || !frames[2].Fin {
		t.Fatalf("frames %+v", frames)
	}
	if st := hs.conn.Stats(); st.FramesSent != 3 || st.MessagesSent != 1 {
		t.Errorf("stats %+v", st)
	}
}

func TestApplicationCloseHandshake(t *testing.T) {
	hs := newHarness(t, nil)
	if err := hs.conn.Close(protocol.CloseNormalClosure, "done"); err != nil {
		t.Fatal(err)
	}
	if hs.conn.State() != api.StateClosingSent {
		t.Fatalf("state %v", hs.conn.State())
	}
	if err := hs.conn.WriteText([]byte("late")); !errors.Is(err, api.ErrConnectionNotOpen) {
		t.Errorf("write while closing: %v", err)
	}

	// Data after our close frame is ignored.
	hs.send(protocol.OpcodeText, []byte("ignored"), true)
	if hs.h.count("message") != 0 {
		t.Error("message dispatched in ClosingSent")
	}

	hs.send(protocol.OpcodeClose, protocol.AppendClosePayload(nil, protocol.CloseNormalClosure, ""), true)
	if hs.conn.State() != api.StateClosed {
		t.Fatalf("state %v", hs.conn.State())
	}
	if e, _ := hs.h.last("close"); !e.normal {
		t.Error("acknowledged close reported abnormal")
	}
	frames := hs.frames(t)
	if len(frames) != 1 {
		t.Errorf("close frame sent %d times", len(frames))
	}

	hs.tick(time.Minute)
	if hs.h.count("close") != 1 {
		t.Error("close timer fired after completion")
	}
}

func TestApplicationCloseTimeout(t *testing.T) {
	hs := newHarness(t, nil)
	if err := hs.conn.Close(protocol.CloseNormalClosure, ""); err != nil {
		t.Fatal(err)
	}
	hs.tick(2 * time.Second)
	if hs.conn.State() != api.StateClosed {
		t.Fatalf("state %v", hs.conn.State())
	}
	if e, _ := hs.h.last("close"); e.normal {
		t.Error("unacknowledged close reported normal")
	}
	if !hs.sock.Closed() {
		t.Error("socket left open")
	}
}

func TestCloseRejectsReservedCode(t *testing.T) {
	hs := newHarness(t, nil)
	if err := hs.conn.Close(protocol.CloseNoStatusRcvd, ""); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("got %v", err)
	}
}

func TestHandlerPanicCloses1011(t *testing.T) {
	hs := newHarness(t, nil)
	hs.h.onMessage = func(api.Conn, []byte, bool) { panic("handler bug") }
	hs.send(protocol.OpcodeText, []byte("boom"), true)
	frames := hs.frames(t)
	if len(frames) != 1 || closeCode(t, frames[0]) != protocol.CloseInternalServerErr {
		t.Fatalf("frames %+v", frames)
	}
	if e, _ := hs.h.last("close"); e.normal {
		t.Error("panic reported as normal close")
	}
}

func TestMessageKindPolicy(t *testing.T) {
	hs := newHarness(t, func(o *Options) { o.Kinds = api.AcceptText })
	hs.send(protocol.OpcodeText, []byte("fine"), true)
	hs.send(protocol.OpcodeBinary, []byte{0xff}, true)
	frames := hs.frames(t)
	if len(frames) != 1 || closeCode(t, frames[0]) != protocol.CloseUnsupportedData {
		t.Fatalf("frames %+v", frames)
	}
	if hs.h.count("message") != 1 {
		t.Errorf("events %+v", hs.h.events)
	}
}

func TestUTF8Validation(t *testing.T) {
	hs := newHarness(t, func(o *Options) { o.ValidateUTF8 = true })
	hs.send(protocol.OpcodeText, []byte{0xc3, 0x28}, true)
	frames := hs.frames(t)
	if len(frames) != 1 || closeCode(t, frames[0]) != protocol.CloseInvalidPayloadData {
		t.Fatalf("frames %+v", frames)
	}

	hs = newHarness(t, nil)
	hs.send(protocol.OpcodeText, []byte{0xc3, 0x28}, true)
	if hs.h.count("message") != 1 {
		t.Error("invalid UTF-8 rejected without validation enabled")
	}
}

func TestShutdown(t *testing.T) {
	hs := newHarness(t, nil)
	hs.conn.Shutdown()
	if hs.h.count("shutdown") != 1 {
		t.Fatal("OnShutdown not called")
	}
	frames := hs.frames(t)
	if len(frames) != 1 || closeCode(t, frames[0]) != protocol.CloseGoingAway {
		t.Fatalf("frames %+v", frames)
	}
	hs.send(protocol.OpcodeClose, protocol.AppendClosePayload(nil, protocol.CloseGoingAway, ""), true)
	if e, _ := hs.h.last("close"); !e.normal {
		t.Error("acknowledged shutdown reported abnormal")
	}
}

func TestDeferRunsOnLoop(t *testing.T) {
	hs := newHarness(t, nil)
	var got api.Conn
	if err := hs.conn.Defer(func(c api.Conn) {
		got = c
		_ = c.WriteText([]byte("from defer"))
	}); err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("task ran before the loop drained")
	}
	hs.loop.Drain()
	if got != hs.conn {
		t.Fatal("task did not run")
	}
	frames := hs.frames(t)
	if len(frames) != 1 || string(frames[0].Payload) != "from defer" {
		t.Fatalf("frames %+v", frames)
	}

	hs.conn.OnTransportError(errors.New("gone"))
	if err := hs.conn.Defer(func(api.Conn) {}); !errors.Is(err, api.ErrConnectionNotOpen) {
		t.Errorf("defer after close: %v", err)
	}
}

func TestPingLimits(t *testing.T) {
	hs := newHarness(t, nil)
	if err := hs.conn.Ping(bytes.Repeat([]byte("p"), 126)); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("oversized ping: %v", err)
	}
	if err := hs.conn.Ping([]byte("ok")); err != nil {
		t.Fatal(err)
	}
}

func TestAbortAfterCloseCutsOffSocket(t *testing.T) {
	hs := newHarness(t, nil)
	hs.send(protocol.OpcodeClose, nil, true)
	if hs.sock.Closes() != 1 {
		t.Fatalf("closes %d", hs.sock.Closes())
	}
	hs.conn.Abort(errors.New("shutdown deadline"))
	if hs.sock.Aborts() != 1 {
		t.Fatalf("aborts %d", hs.sock.Aborts())
	}
	if hs.h.count("close") != 1 || hs.ended != 1 {
		t.Errorf("close callbacks %d, ended %d", hs.h.count("close"), hs.ended)
	}
}

func TestStalledDrainAbortsAfterCloseTimeout(t *testing.T) {
	hs := newHarness(t, nil)
	hs.sock.SetLimit(3)
	hs.send(protocol.OpcodeClose, protocol.AppendClosePayload(nil, protocol.CloseNormalClosure, "done"), true)
	if hs.conn.Pending() == 0 {
		t.Fatal("close echo fit into the socket")
	}
	if hs.sock.Closes() != 0 || hs.sock.Aborts() != 0 {
		t.Fatal("socket released before the drain finished")
	}
	hs.tick(2 * time.Second)
	if hs.sock.Aborts() != 1 {
		t.Fatalf("aborts %d after close timeout", hs.sock.Aborts())
	}
	if hs.conn.Pending() != 0 {
		t.Errorf("pending %d after abort", hs.conn.Pending())
	}
}

func TestLargePartialFrameBufferReleased(t *testing.T) {
	hs := newHarness(t, func(o *Options) { o.MaxMessage = 1 << 20 })
	wire := peer.EncodeFrame(protocol.OpcodeBinary, bytes.Repeat([]byte("b"), 100<<10), true)
	half := len(wire) / 2
	hs.conn.Feed(wire[:half])
	if cap(hs.conn.inbuf) < half {
		t.Fatalf("partial frame not buffered, cap %d", cap(hs.conn.inbuf))
	}
	hs.conn.Feed(wire[half:])
	if e, ok := hs.h.last("message"); !ok || len(e.payload) != 100<<10 {
		t.Fatal("message not delivered")
	}
	if cap(hs.conn.inbuf) != 0 {
		t.Errorf("idle connection keeps %d buffered bytes of capacity", cap(hs.conn.inbuf))
	}
}
