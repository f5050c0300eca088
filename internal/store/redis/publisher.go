// Package redis publishes closed candles to Redis for live subscribers.
//
// Each closed candle is written as the "latest" value of its series (with a
// TTL) and published on a per-series Pub/Sub channel. Redis is a
// notification side channel only; the candle store remains the source of
// truth for history.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"candle-aggregation/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL    = 30 * time.Minute
	defaultWriteTimeout = 2 * time.Second
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// Circuit breaker tuning; zero values select 5 failures / 10s.
	MaxFailures  int
	ResetTimeout time.Duration
}

// LatestKey returns the key holding the most recent closed candle of a series:
// "candle:{interval}:latest:{instrument}".
func LatestKey(instrument, interval string) string {
	return "candle:" + interval + ":latest:" + instrument
}

// Channel returns the Pub/Sub channel of a series: "pub:candle:{interval}:{instrument}".
func Channel(instrument, interval string) string {
	return "pub:candle:" + interval + ":" + instrument
}

// Publisher writes closed candles to Redis through a circuit breaker.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker

	// write performs the actual Redis round trip; replaced in tests.
	write func(ctx context.Context, c model.ClosedCandle) error

	// Metrics hooks (optional)
	OnPublished func(took time.Duration)
	OnSkipped   func() // called when the breaker rejects a write
}

// New connects to Redis and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	reset := cfg.ResetTimeout
	if reset == 0 {
		reset = 10 * time.Second
	}

	p := &Publisher{
		client: client,
		cb:     NewCircuitBreaker(maxFailures, reset),
	}
	p.write = p.pipeline

	slog.Info("redis publisher connected", "component", "redis", "addr", cfg.Addr)
	return p, nil
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the circuit breaker guarding writes.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// Run publishes candles from in until ctx is cancelled or in is closed.
func (p *Publisher) Run(ctx context.Context, in <-chan model.ClosedCandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			if err := p.Publish(ctx, c); err != nil && err != ErrCircuitOpen {
				slog.Warn("redis publish failed", "component", "redis", "key", c.Key(), "error", err)
			}
		}
	}
}

// Publish writes one closed candle. Returns ErrCircuitOpen when the breaker
// rejected the write.
func (p *Publisher) Publish(ctx context.Context, c model.ClosedCandle) error {
	start := time.Now()
	err := p.cb.Execute(func() error {
		wctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
		defer cancel()
		return p.write(wctx, c)
	})
	switch {
	case err == ErrCircuitOpen:
		if p.OnSkipped != nil {
			p.OnSkipped()
		}
	case err == nil:
		if p.OnPublished != nil {
			p.OnPublished(time.Since(start))
		}
	}
	return err
}

// pipeline issues SET latest + PUBLISH in a single round trip.
func (p *Publisher) pipeline(ctx context.Context, c model.ClosedCandle) error {
	data := string(c.JSON())

	pipe := p.client.Pipeline()
	pipe.Set(ctx, LatestKey(c.Instrument, c.Interval), data, defaultLatestTTL)
	pipe.Publish(ctx, Channel(c.Instrument, c.Interval), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline %s: %w", c.Key(), err)
	}
	return nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
