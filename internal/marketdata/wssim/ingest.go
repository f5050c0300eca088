// Package wssim provides a WebSocket ingest client that connects to a tick
// server (e.g. cmd/tickserver) and submits the ticks it reads to the ingest
// queue.
//
// The expected JSON message format on the wire is model.Tick:
//
//	{"symbol":"BTC-USD","bid":95010.5,"ask":95020.0,"timestamp":1700000000000}
package wssim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"candle-aggregation/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Config holds configuration for the WS ingest.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest reads JSON ticks from a WebSocket and submits them.
type Ingest struct {
	cfg Config

	// Optional hooks.
	OnReconnect func()
	OnInvalid   func()
}

// New creates a new Ingest. Returns an error if the URL is not a ws/wss URL.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("wssim: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wssim: unsupported scheme %q", u.Scheme)
	}
	return &Ingest{cfg: cfg}, nil
}

// Run connects and streams ticks into out until ctx is cancelled,
// reconnecting with jittered exponential backoff on disconnect. The backoff
// resets after every successful connection.
func (ing *Ingest) Run(ctx context.Context, out model.TickSubmitter) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = ing.cfg.ReconnectDelay
	bo.MaxInterval = ing.cfg.MaxReconnectDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // retry forever
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := ing.runOnce(ctx, out)
		if err == nil {
			return nil
		}
		if connected {
			bo.Reset()
		}

		delay := bo.NextBackOff()
		slog.Warn("ws feed disconnected", "component", "wssim",
			"error", err, "retry_in", delay.String())
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. A nil error means ctx was cancelled; connected reports whether
// the dial succeeded.
func (ing *Ingest) runOnce(ctx context.Context, out model.TickSubmitter) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	defer conn.Close()

	slog.Info("ws feed connected", "component", "wssim", "url", ing.cfg.URL)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}

		tick, ok := decode(raw)
		if !ok {
			if ing.OnInvalid != nil {
				ing.OnInvalid()
			}
			continue
		}
		out.Submit(tick)
	}
}

// decode parses one wire message. Messages without a symbol are skipped;
// a missing timestamp is stamped with the receive time.
func decode(raw []byte) (model.Tick, bool) {
	var tick model.Tick
	if err := json.Unmarshal(raw, &tick); err != nil {
		slog.Debug("ws feed parse error", "component", "wssim", "error", err)
		return model.Tick{}, false
	}
	if tick.Instrument == "" {
		return model.Tick{}, false
	}
	if tick.TS == 0 {
		tick.TS = time.Now().UnixMilli()
	}
	return tick, true
}
