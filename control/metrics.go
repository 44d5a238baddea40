// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for engine-level monitoring.
// Counters are lock-free once registered; gauges live in a guarded map.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known counter names maintained by the engine.
const (
	MetricConnectionsOpened  = "connections.opened"
	MetricConnectionsClosed  = "connections.closed"
	MetricConnectionsAborted = "connections.aborted"
	MetricHandshakesRejected = "handshakes.rejected"
	MetricMessagesIn         = "messages.in"
	MetricMessagesOut        = "messages.out"
	MetricBytesIn            = "bytes.in"
	MetricBytesOut           = "bytes.out"
	MetricProtocolErrors     = "errors.protocol"
	MetricKeepaliveTimeouts  = "keepalive.timeouts"
	MetricHandlerPanics      = "handler.panics"
)

// MetricsRegistry holds counters and arbitrary gauge values.
type MetricsRegistry struct {
	counters sync.Map // string -> *atomic.Int64

	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Add increments counter key by delta. A nil registry ignores the call.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	if mr == nil {
		return
	}
	c, ok := mr.counters.Load(key)
	if !ok {
		c, _ = mr.counters.LoadOrStore(key, new(atomic.Int64))
	}
	c.(*atomic.Int64).Add(delta)
}

// Inc increments counter key by one.
func (mr *MetricsRegistry) Inc(key string) { mr.Add(key, 1) }

// Counter returns the current value of counter key.
func (mr *MetricsRegistry) Counter(key string) int64 {
	if mr == nil {
		return 0
	}
	if c, ok := mr.counters.Load(key); ok {
		return c.(*atomic.Int64).Load()
	}
	return 0
}

// Set sets or updates a gauge.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Updated returns when a gauge was last set.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

// GetSnapshot returns gauges and counters in one map.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	mr.mu.RUnlock()
	mr.counters.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}
