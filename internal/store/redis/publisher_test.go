package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"candle-aggregation/internal/model"
)

func newTestPublisher(write func(context.Context, model.ClosedCandle) error) *Publisher {
	return &Publisher{cb: NewCircuitBreaker(2, time.Hour), write: write}
}

func TestKeys(t *testing.T) {
	if got := LatestKey("BTC-USD", "1m"); got != "candle:1m:latest:BTC-USD" {
		t.Errorf("unexpected latest key %q", got)
	}
	if got := Channel("BTC-USD", "1m"); got != "pub:candle:1m:BTC-USD" {
		t.Errorf("unexpected channel %q", got)
	}
}

func TestPublisher_Publish(t *testing.T) {
	var got []model.ClosedCandle
	p := newTestPublisher(func(_ context.Context, c model.ClosedCandle) error {
		got = append(got, c)
		return nil
	})
	published := 0
	p.OnPublished = func(time.Duration) { published++ }

	c := model.ClosedCandle{Instrument: "ETH-USD", Interval: "5s", Candle: model.Candle{WindowStart: 5000, Volume: 2}}
	if err := p.Publish(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != c {
		t.Errorf("expected candle to be written once, got %+v", got)
	}
	if published != 1 {
		t.Errorf("expected OnPublished once, got %d", published)
	}
}

func TestPublisher_SkipsWhenBreakerOpen(t *testing.T) {
	calls := 0
	p := newTestPublisher(func(context.Context, model.ClosedCandle) error {
		calls++
		return errors.New("connection refused")
	})
	skipped := 0
	p.OnSkipped = func() { skipped++ }

	c := model.ClosedCandle{Instrument: "X", Interval: "1s"}
	for i := 0; i < 4; i++ {
		p.Publish(context.Background(), c)
	}

	if calls != 2 {
		t.Errorf("expected 2 writes before the breaker opened, got %d", calls)
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped writes, got %d", skipped)
	}
	if p.Breaker().CurrentState() != StateOpen {
		t.Errorf("expected breaker open, got %v", p.Breaker().CurrentState())
	}
}

func TestPublisher_RunDrainsUntilClosed(t *testing.T) {
	written := make(chan model.ClosedCandle, 4)
	p := newTestPublisher(func(_ context.Context, c model.ClosedCandle) error {
		written <- c
		return nil
	})

	in := make(chan model.ClosedCandle, 4)
	in <- model.ClosedCandle{Instrument: "A", Interval: "1s"}
	in <- model.ClosedCandle{Instrument: "B", Interval: "1s"}
	close(in)

	p.Run(context.Background(), in)

	if len(written) != 2 {
		t.Errorf("expected 2 candles written, got %d", len(written))
	}
}
