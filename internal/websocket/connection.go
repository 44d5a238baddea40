// File: internal/websocket/connection.go
// Package websocket implements the per-connection WebSocket state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Connection is owned by exactly one worker loop. Every method except
// Defer, ID, State and Stats must be called on that loop; the type holds no
// locks. Inbound bytes arrive through Feed, are decoded into frames, and
// either answered directly (control frames) or reassembled into messages
// for the application handler.

package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/control"
	"github.com/momentics/hioload-wsengine/protocol"
)

// DefaultCloseTimeout bounds how long a locally initiated close waits for
// the peer's close frame.
const DefaultCloseTimeout = 5 * time.Second

// maxRetainedInbuf caps the partial-frame buffer kept by an idle
// connection; larger buffers are released once drained.
const maxRetainedInbuf = 32 << 10

// Options carries the per-connection settings decided at upgrade time.
type Options struct {
	ID           string
	Subprotocol  string
	MaxMessage   int64
	PingInterval time.Duration
	CloseTimeout time.Duration
	// FragmentSize splits outgoing messages into frames of at most this
	// many payload bytes. Zero sends every message as one frame.
	FragmentSize int
	ValidateUTF8 bool
	Kinds        api.MessageKinds

	// Post runs a task on the owning worker. Required.
	Post      func(task func()) error
	Scheduler api.Scheduler
	Logger    *slog.Logger
	Metrics   *control.MetricsRegistry
	// OnTerminal is called on the worker after OnClose returned.
	OnTerminal func(c *Connection)
}

// Connection is one upgraded WebSocket endpoint in the server role.
type Connection struct {
	id          string
	sock        api.Socket
	handler     api.Handler
	pingObs     api.PingObserver
	subprotocol string

	codec        protocol.Codec
	reasm        *protocol.Reassembler
	fragmentSize int
	validateUTF8 bool
	kinds        api.MessageKinds

	state       api.ConnState
	sharedState atomic.Int32

	inbuf        []byte
	out          *outbox
	writePending bool
	sockClosed   bool
	opened       bool
	notified     bool

	ka           keepalive
	closeTimeout time.Duration
	closeTimer   api.Cancelable
	closeGen     uint64

	post       func(task func()) error
	sched      api.Scheduler
	log        *slog.Logger
	metrics    *control.MetricsRegistry
	onTerminal func(c *Connection)

	bytesIn, bytesOut   atomic.Int64
	framesIn, framesOut atomic.Int64
	msgsIn, msgsOut     atomic.Int64
	lastPong            atomic.Int64
}

var _ api.Conn = (*Connection)(nil)
var _ api.SocketSink = (*Connection)(nil)

// NewConnection creates a connection in the HandshakePending state.
func NewConnection(sock api.Socket, h api.Handler, opts Options) *Connection {
	if opts.MaxMessage <= 0 {
		opts.MaxMessage = protocol.DefaultMaxPayload
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	if opts.Kinds == 0 {
		opts.Kinds = api.AcceptAll
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Connection{
		id:           opts.ID,
		sock:         sock,
		handler:      h,
		subprotocol:  opts.Subprotocol,
		codec:        protocol.Codec{Role: protocol.RoleServer, MaxPayload: opts.MaxMessage},
		reasm:        protocol.NewReassembler(opts.MaxMessage),
		fragmentSize: opts.FragmentSize,
		validateUTF8: opts.ValidateUTF8,
		kinds:        opts.Kinds,
		out:          newOutbox(),
		ka:           keepalive{interval: opts.PingInterval},
		closeTimeout: opts.CloseTimeout,
		post:         opts.Post,
		sched:        opts.Scheduler,
		log:          opts.Logger.With("conn", opts.ID),
		metrics:      opts.Metrics,
		onTerminal:   opts.OnTerminal,
	}
	c.pingObs, _ = h.(api.PingObserver)
	c.setState(api.StateHandshakePending)
	return c
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// State may be called from any goroutine.
func (c *Connection) State() api.ConnState { return api.ConnState(c.sharedState.Load()) }

// Subprotocol returns the negotiated subprotocol.
func (c *Connection) Subprotocol() string { return c.subprotocol }

// Stats may be called from any goroutine.
func (c *Connection) Stats() api.ConnStats {
	st := api.ConnStats{
		BytesReceived:    c.bytesIn.Load(),
		BytesSent:        c.bytesOut.Load(),
		FramesReceived:   c.framesIn.Load(),
		FramesSent:       c.framesOut.Load(),
		MessagesReceived: c.msgsIn.Load(),
		MessagesSent:     c.msgsOut.Load(),
	}
	if ns := c.lastPong.Load(); ns != 0 {
		st.LastPong = time.Unix(0, ns)
	}
	return st
}

// Pending returns the number of outbound bytes the socket has not accepted.
func (c *Connection) Pending() int { return c.out.bytes() }

func (c *Connection) setState(s api.ConnState) {
	c.state = s
	c.sharedState.Store(int32(s))
}

func (c *Connection) now() time.Time {
	if c.sched != nil {
		return c.sched.Now()
	}
	return time.Now()
}

// after runs fn on the owning worker once d elapsed.
func (c *Connection) after(d time.Duration, fn func()) api.Cancelable {
	if c.sched == nil {
		return nil
	}
	t, err := c.sched.Schedule(d, func() { _ = c.post(fn) })
	if err != nil {
		c.log.Warn("timer not scheduled", "err", err)
		return nil
	}
	return t
}

// Open completes the upgrade: the connection becomes Open, the handler's
// OnOpen runs and keepalive starts.
func (c *Connection) Open() {
	if c.state != api.StateHandshakePending {
		return
	}
	c.setState(api.StateOpen)
	c.opened = true
	c.metrics.Inc(control.MetricConnectionsOpened)
	c.lastPong.Store(c.now().UnixNano())
	c.armKeepalive()
	c.log.Debug("connection open", "subprotocol", c.subprotocol)

	if !c.invoke("OnOpen", func() { c.handler.OnOpen(c) }) {
		c.closeWithError(protocol.CloseInternalServerErr, "internal error")
		return
	}
	if len(c.inbuf) > 0 && !c.state.Terminal() {
		c.Feed(nil)
	}
}

// Feed consumes inbound bytes. p is only read during the call; bytes of an
// incomplete frame are retained until the rest arrives.
func (c *Connection) Feed(p []byte) {
	if c.state.Terminal() {
		return
	}
	if len(p) > 0 {
		c.bytesIn.Add(int64(len(p)))
		c.metrics.Add(control.MetricBytesIn, int64(len(p)))
	}
	if c.state == api.StateHandshakePending {
		c.inbuf = append(c.inbuf, p...)
		return
	}

	data := p
	buffered := len(c.inbuf) > 0
	if buffered {
		c.inbuf = append(c.inbuf, p...)
		data = c.inbuf
	}
	n := c.process(data)

	if c.state.Terminal() {
		c.inbuf = nil
		return
	}
	rest := data[n:]
	switch {
	case len(rest) == 0:
		if cap(c.inbuf) > maxRetainedInbuf {
			c.inbuf = nil
		} else {
			c.inbuf = c.inbuf[:0]
		}
	case buffered:
		c.inbuf = c.inbuf[:copy(c.inbuf, rest)]
	default:
		c.inbuf = append(c.inbuf[:0], rest...)
	}
	c.flush()
}

// process decodes and handles every complete frame in data and returns the
// number of bytes consumed.
func (c *Connection) process(data []byte) int {
	off := 0
	for off < len(data) && !c.state.Terminal() {
		f, n, err := c.codec.DecodeFrame(data[off:])
		if errors.Is(err, protocol.ErrNeedMoreData) {
			break
		}
		if err != nil {
			c.failProtocol(err)
			return off
		}
		off += n
		c.framesIn.Add(1)
		c.handleFrame(&f)
	}
	return off
}

func (c *Connection) handleFrame(f *protocol.Frame) {
	if c.state == api.StateClosingSent && f.Opcode != protocol.OpcodeClose {
		return
	}
	switch f.Opcode {
	case protocol.OpcodePing:
		c.queueControl(protocol.OpcodePong, f.Payload)
		if c.pingObs != nil {
			if !c.invoke("OnPing", func() { c.pingObs.OnPing(c, f.Payload) }) {
				c.closeWithError(protocol.CloseInternalServerErr, "internal error")
			}
		}
	case protocol.OpcodePong:
		c.ka.pong()
		c.lastPong.Store(c.now().UnixNano())
	case protocol.OpcodeClose:
		c.onPeerClose(f.Payload)
	default:
		msg, done, err := c.reasm.Push(f)
		if err != nil {
			c.failProtocol(err)
			return
		}
		if done {
			c.dispatch(msg)
		}
	}
}

func (c *Connection) dispatch(msg protocol.Message) {
	isText := msg.IsText()
	if !c.kinds.Accepts(isText) {
		c.failProtocol(protocol.ErrUnsupportedData)
		return
	}
	if isText && c.validateUTF8 && !utf8.Valid(msg.Payload) {
		c.failProtocol(protocol.ErrInvalidUTF8)
		return
	}
	c.msgsIn.Add(1)
	c.metrics.Inc(control.MetricMessagesIn)
	if !c.invoke("OnMessage", func() { c.handler.OnMessage(c, msg.Payload, isText) }) {
		c.closeWithError(protocol.CloseInternalServerErr, "internal error")
	}
}

func (c *Connection) onPeerClose(payload []byte) {
	code, reason, err := protocol.ParseClosePayload(payload)
	if err != nil {
		c.failProtocol(err)
		return
	}
	c.log.Debug("peer close", "code", code, "reason", reason)

	if c.state == api.StateOpen {
		if code == protocol.CloseNoStatusRcvd {
			code = protocol.CloseNormalClosure
		}
		c.queueClose(code, "")
		c.setState(api.StateClosingSent)
	}
	c.setState(api.StateClosed)
	c.finish(true)
}

// failProtocol ends the connection after a peer violation.
func (c *Connection) failProtocol(err error) {
	code := protocol.CloseCodeOf(err)
	c.metrics.Inc(control.MetricProtocolErrors)
	c.log.Debug("protocol violation", "err", err, "code", code)
	reason := ""
	var pe *protocol.ProtocolError
	if errors.As(err, &pe) {
		reason = pe.Reason
	}
	c.closeWithError(code, reason)
}

// closeWithError sends a close frame unless one was already sent, then
// ends the connection abnormally.
func (c *Connection) closeWithError(code protocol.CloseCode, reason string) {
	if c.state.Terminal() {
		return
	}
	if c.state != api.StateClosingSent {
		c.queueClose(code, reason)
	}
	c.setState(api.StateClosed)
	c.finish(false)
}

// finish runs once per connection when it reaches Closed.
func (c *Connection) finish(normal bool) {
	c.ka.stop()
	c.cancelCloseTimer()
	c.reasm.Reset()
	c.inbuf = nil
	c.flush()
	if c.out.empty() {
		c.closeSocket()
	} else if c.after(c.closeTimeout, c.drainExpired) == nil {
		// No timer available to bound the drain.
		c.hardClose()
	}
	c.metrics.Inc(control.MetricConnectionsClosed)
	c.notify(normal)
}

// abort ends the connection without a close frame. On an already ended
// connection it still cuts off a socket that is lingering in a flush.
func (c *Connection) abort(err error) {
	if c.state.Terminal() {
		c.out.reset()
		c.hardClose()
		return
	}
	c.log.Warn("transport failure", "err", err)
	c.setState(api.StateAborted)
	c.ka.stop()
	c.cancelCloseTimer()
	c.reasm.Reset()
	c.inbuf = nil
	c.out.reset()
	c.hardClose()
	c.metrics.Inc(control.MetricConnectionsAborted)
	c.notify(false)
}

func (c *Connection) notify(normal bool) {
	if c.notified {
		return
	}
	c.notified = true
	if c.opened {
		c.invoke("OnClose", func() { c.handler.OnClose(c, normal) })
	}
	if c.onTerminal != nil {
		c.onTerminal(c)
	}
}

func (c *Connection) closeSocket() {
	if c.sockClosed {
		return
	}
	c.sockClosed = true
	if err := c.sock.Close(); err != nil {
		c.log.Debug("socket close", "err", err)
	}
}

// hardClose aborts the socket even if a graceful close already started.
func (c *Connection) hardClose() {
	c.sockClosed = true
	if err := c.sock.Abort(); err != nil {
		c.log.Debug("socket abort", "err", err)
	}
}

// drainExpired runs when the outbox did not empty within the close timeout.
func (c *Connection) drainExpired() {
	if c.sockClosed {
		return
	}
	c.out.reset()
	c.hardClose()
}

// invoke runs a handler callback, converting a panic into false.
func (c *Connection) invoke(name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			c.metrics.Inc(control.MetricHandlerPanics)
			c.log.Error("handler panic", "callback", name, "panic", fmt.Sprint(r))
		}
	}()
	fn()
	return true
}

// OnWritable resumes flushing after a partial write.
func (c *Connection) OnWritable() {
	c.writePending = false
	c.flush()
}

// OnTransportError aborts the connection.
func (c *Connection) OnTransportError(err error) {
	c.abort(api.NewTransportError("read", err))
}

func (c *Connection) flush() {
	if c.writePending || c.sockClosed {
		return
	}
	n, err := c.out.flush(c.sock)
	if n > 0 {
		c.bytesOut.Add(int64(n))
		c.metrics.Add(control.MetricBytesOut, int64(n))
	}
	if err != nil {
		c.abort(api.NewTransportError("write", err))
		return
	}
	c.writePending = !c.out.empty()
	if !c.writePending && c.state.Terminal() {
		c.closeSocket()
	}
}

func (c *Connection) queueControl(op protocol.Opcode, payload []byte) {
	buf := make([]byte, 0, protocol.HeaderLen(len(payload), false)+len(payload))
	c.out.push(c.codec.AppendFrame(buf, op, payload, true))
	c.framesOut.Add(1)
}

func (c *Connection) queueClose(code protocol.CloseCode, reason string) {
	if !code.Sendable() {
		code = protocol.CloseProtocolError
	}
	var scratch [protocol.MaxControlPayloadLen]byte
	c.queueControl(protocol.OpcodeClose, protocol.AppendClosePayload(scratch[:0], code, reason))
}

func (c *Connection) writeMessage(op protocol.Opcode, p []byte) error {
	if c.state != api.StateOpen {
		return api.ErrConnectionNotOpen
	}
	frames := 1
	if c.fragmentSize > 0 && len(p) > c.fragmentSize {
		frames = (len(p) + c.fragmentSize - 1) / c.fragmentSize
	}
	buf := make([]byte, 0, frames*protocol.MaxFrameHeaderLen+len(p))
	c.out.push(c.codec.AppendMessage(buf, op, p, c.fragmentSize))
	c.framesOut.Add(int64(frames))
	c.msgsOut.Add(1)
	c.metrics.Inc(control.MetricMessagesOut)
	c.flush()
	if c.state == api.StateAborted {
		return api.ErrTransportClosed
	}
	return nil
}

// WriteText sends a text message. The payload is copied.
func (c *Connection) WriteText(p []byte) error {
	if c.validateUTF8 && !utf8.Valid(p) {
		return api.ErrInvalidArgument
	}
	return c.writeMessage(protocol.OpcodeText, p)
}

// WriteBinary sends a binary message. The payload is copied.
func (c *Connection) WriteBinary(p []byte) error {
	return c.writeMessage(protocol.OpcodeBinary, p)
}

// Ping sends a ping with an application payload of at most 125 bytes.
func (c *Connection) Ping(p []byte) error {
	if c.state != api.StateOpen {
		return api.ErrConnectionNotOpen
	}
	if len(p) > protocol.MaxControlPayloadLen {
		return api.ErrInvalidArgument
	}
	c.queueControl(protocol.OpcodePing, p)
	c.flush()
	return nil
}

// Close starts the close handshake. OnClose(true) follows once the peer
// answers; without an answer within the close timeout the connection ends
// with OnClose(false).
func (c *Connection) Close(code protocol.CloseCode, reason string) error {
	if c.state != api.StateOpen {
		return api.ErrConnectionNotOpen
	}
	if !code.Sendable() {
		return api.ErrInvalidArgument
	}
	c.queueClose(code, reason)
	c.setState(api.StateClosingSent)
	c.ka.stop()
	c.reasm.Reset()
	c.armCloseTimer()
	c.flush()
	return nil
}

func (c *Connection) armCloseTimer() {
	gen := c.closeGen
	c.closeTimer = c.after(c.closeTimeout, func() {
		if gen != c.closeGen || c.state != api.StateClosingSent {
			return
		}
		c.log.Debug("close handshake timed out")
		c.setState(api.StateClosed)
		c.finish(false)
	})
}

func (c *Connection) cancelCloseTimer() {
	if c.closeTimer != nil {
		_ = c.closeTimer.Cancel()
		c.closeTimer = nil
	}
	c.closeGen++
}

// Shutdown notifies the handler that the host is going down and closes the
// connection with a going-away status.
func (c *Connection) Shutdown() {
	switch c.state {
	case api.StateHandshakePending:
		c.setState(api.StateClosed)
		c.closeSocket()
		c.notify(false)
	case api.StateOpen:
		c.invoke("OnShutdown", func() { c.handler.OnShutdown(c) })
		if c.state == api.StateOpen {
			_ = c.Close(protocol.CloseGoingAway, "server shutting down")
		}
	}
}

// Abort tears the connection down immediately without a close frame.
func (c *Connection) Abort(reason error) {
	c.abort(reason)
}

// Defer runs task on the owning worker. It is safe from any goroutine.
// Tasks reaching a connection that has already ended are dropped.
func (c *Connection) Defer(task func(api.Conn)) error {
	if task == nil {
		return api.ErrInvalidArgument
	}
	if c.State().Terminal() {
		return api.ErrConnectionNotOpen
	}
	return c.post(func() {
		if c.state.Terminal() {
			return
		}
		task(c)
	})
}

// Exec posts task onto the owning worker.
func (c *Connection) Exec(task func()) error {
	return c.post(task)
}
