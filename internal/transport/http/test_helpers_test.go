package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store/memory"
)

// startTestServer runs a hub on an in-memory store behind an httptest server.
func startTestServer(t *testing.T, mutate ...func(*config.Config)) (*httptest.Server, *core.Hub) {
	t.Helper()

	cfg := config.Default()
	cfg.StoreDriver = config.StoreDriverMemory
	for _, fn := range mutate {
		fn(&cfg)
	}

	logger := zerolog.Nop()
	hub := core.NewHub(memory.New(), &logger, core.WithHistoryLimit(cfg.HistoryLimit))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := NewServer(hub, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return ts, hub
}

type wsPeer struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server) *wsPeer {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })

	return &wsPeer{t: t, ctx: ctx, conn: conn}
}

func (p *wsPeer) send(typ string, data any) {
	p.t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		p.t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(p.ctx, p.conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		p.t.Fatalf("send %s: %v", typ, err)
	}
}

type rawOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// expect reads frames until one with the given type and event name arrives.
// Pass an empty event to wait for an error frame.
func (p *wsPeer) expect(typ, event string) rawOutbound {
	p.t.Helper()

	for {
		var out rawOutbound
		if err := wsjson.Read(p.ctx, p.conn, &out); err != nil {
			p.t.Fatalf("waiting for %s/%s: %v", typ, event, err)
		}
		if out.Type == typ && out.Event == event {
			return out
		}
	}
}

func (p *wsPeer) register(identity string) {
	p.t.Helper()
	p.send(proto.InboundTypeRegister, proto.RegisterData{Identity: identity})
	p.expect(proto.OutboundTypeEvent, "registered")
}

func decodeData[T any](t *testing.T, out rawOutbound) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(out.Data, &v); err != nil {
		t.Fatalf("decode %s data: %v", out.Event, err)
	}
	return v
}
