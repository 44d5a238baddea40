// File: adapters/handler_adapter.go
// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Handler middleware: composable wrappers around api.Handler.

package adapters

import (
	"log/slog"
	"time"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/control"
)

// Middleware wraps a Handler.
type Middleware func(api.Handler) api.Handler

// Chain applies middleware so that the first one listed is outermost.
func Chain(h api.Handler, mw ...Middleware) api.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// wrapped forwards every callback to next, with optional hooks around each.
// OnPing is forwarded only when next observes pings.
type wrapped struct {
	next    api.Handler
	open    func(c api.Conn, next func())
	message func(c api.Conn, payload []byte, isText bool, next func())
	close   func(c api.Conn, normal bool, next func())
}

func (w *wrapped) OnOpen(c api.Conn) {
	if w.open == nil {
		w.next.OnOpen(c)
		return
	}
	w.open(c, func() { w.next.OnOpen(c) })
}

func (w *wrapped) OnMessage(c api.Conn, payload []byte, isText bool) {
	if w.message == nil {
		w.next.OnMessage(c, payload, isText)
		return
	}
	w.message(c, payload, isText, func() { w.next.OnMessage(c, payload, isText) })
}

func (w *wrapped) OnPing(c api.Conn, payload []byte) {
	if po, ok := w.next.(api.PingObserver); ok {
		po.OnPing(c, payload)
	}
}

func (w *wrapped) OnShutdown(c api.Conn) { w.next.OnShutdown(c) }

func (w *wrapped) OnClose(c api.Conn, normal bool) {
	if w.close == nil {
		w.next.OnClose(c, normal)
		return
	}
	w.close(c, normal, func() { w.next.OnClose(c, normal) })
}

// LoggingMiddleware logs connection lifecycle at info level and every
// message at debug level.
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next api.Handler) api.Handler {
		return &wrapped{
			next: next,
			open: func(c api.Conn, call func()) {
				log.Info("connection open", "conn", c.ID(), "subprotocol", c.Subprotocol())
				call()
			},
			message: func(c api.Conn, payload []byte, isText bool, call func()) {
				log.Debug("message", "conn", c.ID(), "bytes", len(payload), "text", isText)
				call()
			},
			close: func(c api.Conn, normal bool, call func()) {
				call()
				st := c.Stats()
				log.Info("connection closed", "conn", c.ID(), "normal", normal,
					"messages_in", st.MessagesReceived, "messages_out", st.MessagesSent)
			},
		}
	}
}

// MetricsMiddleware counts handler activity and accumulates handler time.
func MetricsMiddleware(m *control.MetricsRegistry) Middleware {
	return func(next api.Handler) api.Handler {
		return &wrapped{
			next: next,
			message: func(c api.Conn, payload []byte, isText bool, call func()) {
				start := time.Now()
				call()
				if isText {
					m.Inc(MetricHandlerText)
				} else {
					m.Inc(MetricHandlerBinary)
				}
				m.Add(MetricHandlerNanos, int64(time.Since(start)))
			},
			close: func(c api.Conn, normal bool, call func()) {
				if !normal {
					m.Inc(MetricHandlerAbnormal)
				}
				call()
			},
		}
	}
}

// Counters maintained by MetricsMiddleware.
const (
	MetricHandlerText     = "handler.messages.text"
	MetricHandlerBinary   = "handler.messages.binary"
	MetricHandlerNanos    = "handler.nanos"
	MetricHandlerAbnormal = "handler.closes.abnormal"
)
