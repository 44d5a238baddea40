// File: internal/websocket/keepalive.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package websocket

import (
	"time"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/control"
	"github.com/momentics/hioload-wsengine/protocol"
)

// keepalive tracks the ping timer of one connection. A tick that finds the
// previous ping unanswered is a timeout.
//
// gen invalidates ticks that were already posted to the worker when the
// timer got stopped.
type keepalive struct {
	interval time.Duration
	timer    api.Cancelable
	gen      uint64
	awaiting bool
}

func (k *keepalive) enabled() bool { return k.interval > 0 }

func (k *keepalive) stop() {
	if k.timer != nil {
		_ = k.timer.Cancel()
		k.timer = nil
	}
	k.gen++
	k.awaiting = false
}

// pong records an answer to the outstanding ping.
func (k *keepalive) pong() { k.awaiting = false }

// armKeepalive schedules the next tick.
func (c *Connection) armKeepalive() {
	if !c.ka.enabled() || c.sched == nil {
		return
	}
	gen := c.ka.gen
	c.ka.timer = c.after(c.ka.interval, func() { c.keepaliveTick(gen) })
}

// keepaliveTick runs on the owning worker.
func (c *Connection) keepaliveTick(gen uint64) {
	if gen != c.ka.gen || c.state != api.StateOpen {
		return
	}
	c.ka.timer = nil
	if c.ka.awaiting {
		c.metrics.Inc(control.MetricKeepaliveTimeouts)
		c.log.Info("keepalive timeout", "interval", c.ka.interval)
		c.closeWithError(protocol.CloseGoingAway, "keepalive timeout")
		return
	}
	c.ka.awaiting = true
	c.queueControl(protocol.OpcodePing, nil)
	c.flush()
	if c.state == api.StateOpen {
		c.armKeepalive()
	}
}
