package adapters_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/momentics/hioload-wsengine/adapters"
	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/control"
	"github.com/momentics/hioload-wsengine/protocol"
)

type stubConn struct{ id string }

func (c *stubConn) ID() string                                    { return c.id }
func (c *stubConn) State() api.ConnState                          { return api.StateOpen }
func (c *stubConn) Subprotocol() string                           { return "" }
func (c *stubConn) WriteText(p []byte) error                      { return nil }
func (c *stubConn) WriteBinary(p []byte) error                    { return nil }
func (c *stubConn) Ping(p []byte) error                           { return nil }
func (c *stubConn) Close(code protocol.CloseCode, r string) error { return nil }
func (c *stubConn) Defer(task func(c api.Conn)) error             { task(c); return nil }
func (c *stubConn) Stats() api.ConnStats                          { return api.ConnStats{MessagesReceived: 3} }

type pinger struct {
	api.HandlerFuncs
	pings int
}

func (p *pinger) OnPing(c api.Conn, payload []byte) { p.pings++ }

func TestChainOrder(t *testing.T) {
	var trace []string
	tag := func(name string) adapters.Middleware {
		return func(next api.Handler) api.Handler {
			return api.HandlerFuncs{
				Message: func(c api.Conn, p []byte, isText bool) {
					trace = append(trace, name)
					next.OnMessage(c, p, isText)
				},
			}
		}
	}
	base := api.HandlerFuncs{Message: func(c api.Conn, p []byte, isText bool) { trace = append(trace, "base") }}

	h := adapters.Chain(base, tag("outer"), tag("inner"))
	h.OnMessage(&stubConn{id: "c"}, []byte("x"), true)

	if strings.Join(trace, ",") != "outer,inner,base" {
		t.Fatalf("trace %v", trace)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := control.NewMetricsRegistry()
	var got []string
	base := api.HandlerFuncs{
		Message: func(c api.Conn, p []byte, isText bool) { got = append(got, string(p)) },
	}
	h := adapters.Chain(base, adapters.MetricsMiddleware(m))
	c := &stubConn{id: "c"}

	h.OnMessage(c, []byte("a"), true)
	h.OnMessage(c, []byte("b"), false)
	h.OnMessage(c, []byte("c"), false)
	h.OnClose(c, false)
	h.OnClose(c, true)

	if len(got) != 3 {
		t.Fatalf("delivered %v", got)
	}
	if m.Counter(adapters.MetricHandlerText) != 1 || m.Counter(adapters.MetricHandlerBinary) != 2 {
		t.Errorf("snapshot %v", m.GetSnapshot())
	}
	if m.Counter(adapters.MetricHandlerAbnormal) != 1 {
		t.Errorf("abnormal closes %d", m.Counter(adapters.MetricHandlerAbnormal))
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	closed := false
	base := api.HandlerFuncs{Close: func(c api.Conn, normal bool) { closed = normal }}
	h := adapters.Chain(base, adapters.LoggingMiddleware(log))
	c := &stubConn{id: "conn-42"}

	h.OnOpen(c)
	h.OnMessage(c, []byte("hello"), true)
	h.OnClose(c, true)

	if !closed {
		t.Error("OnClose not forwarded")
	}
	out := buf.String()
	for _, want := range []string{"connection open", "conn=conn-42", "bytes=5", "connection closed", "messages_in=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestWrapperForwardsPings(t *testing.T) {
	base := &pinger{}
	h := adapters.Chain(base, adapters.MetricsMiddleware(control.NewMetricsRegistry()))
	po, ok := h.(api.PingObserver)
	if !ok {
		t.Fatal("wrapper hides OnPing")
	}
	po.OnPing(&stubConn{id: "c"}, nil)
	if base.pings != 1 {
		t.Errorf("pings %d", base.pings)
	}
}
