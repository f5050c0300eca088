// cmd/tickserver is a demo WebSocket tick server. It broadcasts synthetic
// bid/ask ticks for exercising candled with FEED=ws.
//
// Tick JSON shape is model.Tick:
//
//	{"symbol":"BTC-USD","bid":95010.5,"ask":95020.0,"timestamp":1700000000000}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	FEED_SYMBOLS      comma-separated SYMBOL[:PRICE] list (default built-in set)
//	FEED_EVERY        broadcast cadence (default "100ms")
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"candle-aggregation/internal/logger"
	"candle-aggregation/internal/marketdata/feed"
	"candle-aggregation/internal/model"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

// Submit broadcasts one tick. It satisfies model.TickSubmitter so the
// synthetic feed can drive the hub directly.
func (h *hub) Submit(t model.Tick) bool {
	msg, err := json.Marshal(t)
	if err != nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop tick
		}
	}
	return true
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("upgrade failed", "error", err)
			return
		}
		slog.Info("client connected", "remote", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			slog.Info("client disconnected", "remote", r.RemoteAddr)
		}()

		// Reader: detects client close so the write pump can exit.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	_ = godotenv.Load()
	logger.Init("tickserver", slog.LevelInfo)

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	every, err := time.ParseDuration(envOrDefault("FEED_EVERY", "100ms"))
	if err != nil {
		slog.Error("invalid FEED_EVERY", "error", err)
		os.Exit(1)
	}
	instruments, err := feed.ParseInstruments(os.Getenv("FEED_SYMBOLS"))
	if err != nil {
		slog.Error("invalid FEED_SYMBOLS", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := newHub()
	go feed.NewSynthetic(instruments, every, time.Now().UnixNano()).Run(ctx, h)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"tickserver"}`))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", "addr", addr, "ws", "ws://localhost"+addr+"/ws")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
