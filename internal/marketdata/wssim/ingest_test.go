package wssim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"candle-aggregation/internal/model"

	"github.com/gorilla/websocket"
)

type collector struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (c *collector) Submit(t model.Tick) bool {
	c.mu.Lock()
	c.ticks = append(c.ticks, t)
	c.mu.Unlock()
	return true
}

func (c *collector) snapshot() []model.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Tick(nil), c.ticks...)
}

func TestNew_RejectsBadScheme(t *testing.T) {
	if _, err := New(Config{URL: "http://localhost:9001/ws"}); err == nil {
		t.Error("expected error for http scheme")
	}
	if _, err := New(Config{URL: "ws://localhost:9001/ws"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDecode(t *testing.T) {
	tick, ok := decode([]byte(`{"symbol":"BTC-USD","bid":100,"ask":102,"timestamp":5}`))
	if !ok || tick.Instrument != "BTC-USD" || tick.Mid() != 101 || tick.TS != 5 {
		t.Errorf("unexpected decode result %+v ok=%v", tick, ok)
	}
	if _, ok := decode([]byte(`{"bid":1,"ask":2}`)); ok {
		t.Error("expected tick without symbol to be skipped")
	}
	if _, ok := decode([]byte(`not json`)); ok {
		t.Error("expected malformed message to be skipped")
	}
	if tick, ok := decode([]byte(`{"symbol":"X","bid":1,"ask":1}`)); !ok || tick.TS == 0 {
		t.Errorf("expected missing timestamp to be stamped, got %+v", tick)
	}
}

func TestIngest_ReadsFromServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"ETH-USD","bid":10,"ask":12,"timestamp":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"SOL-USD","bid":1,"ask":3,"timestamp":2}`))
		// Hold the connection until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	ing, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	invalid := 0
	var mu sync.Mutex
	ing.OnInvalid = func() { mu.Lock(); invalid++; mu.Unlock() }

	ctx, cancel := context.WithCancel(context.Background())
	out := &collector{}
	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx, out) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(out.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	got := out.snapshot()
	if len(got) != 2 || got[0].Instrument != "ETH-USD" || got[1].Instrument != "SOL-USD" {
		t.Errorf("unexpected ticks %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if invalid != 1 {
		t.Errorf("expected 1 invalid message, got %d", invalid)
	}
}

func TestIngest_ReconnectsAfterServerDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	conns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		mu.Unlock()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"AAPL","bid":180,"ask":180.02,"timestamp":1}`))
		conn.Close() // drop every client right away
	}))
	defer srv.Close()

	ing, err := New(Config{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay:    5 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reconnects := make(chan struct{}, 16)
	ing.OnReconnect = func() {
		select {
		case reconnects <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ing.Run(ctx, &collector{})
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-reconnects:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected reconnect %d", i+1)
		}
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if conns < 2 {
		t.Errorf("expected at least 2 connections, got %d", conns)
	}
}
