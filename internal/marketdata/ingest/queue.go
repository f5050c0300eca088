// Package ingest provides the bounded, best-effort tick queue between feed
// producers and the aggregation registry.
package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"

	"candle-aggregation/internal/model"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 10000

// Queue is a fixed-capacity tick queue. Any number of producers may Submit;
// a single Run loop drains it in order. Submit never blocks: when the queue
// is full the tick is dropped and counted.
type Queue struct {
	ch      chan model.Tick
	stopped atomic.Bool

	submitted atomic.Uint64
	dropped   atomic.Uint64

	// Metrics hooks (optional, set before use)
	OnSubmit func()
	OnDrop   func()
}

// New creates a Queue. A non-positive capacity selects DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan model.Tick, capacity)}
}

// Submit enqueues a tick without blocking. It returns false if the tick was
// dropped, either because the queue is full or because Run has stopped.
func (q *Queue) Submit(tick model.Tick) bool {
	if q.stopped.Load() {
		q.drop()
		return false
	}
	select {
	case q.ch <- tick:
		q.submitted.Add(1)
		if q.OnSubmit != nil {
			q.OnSubmit()
		}
		return true
	default:
		q.drop()
		return false
	}
}

func (q *Queue) drop() {
	q.dropped.Add(1)
	if q.OnDrop != nil {
		q.OnDrop()
	}
}

// Run drains the queue into sink, one tick at a time, in arrival order.
// Blocks until ctx is cancelled; afterwards Submit rejects new ticks.
func (q *Queue) Run(ctx context.Context, sink model.TickSink) {
	defer q.stopped.Store(true)

	slog.Info("ingest consumer started", "component", "ingest", "capacity", cap(q.ch))
	for {
		select {
		case <-ctx.Done():
			slog.Info("ingest consumer stopped", "component", "ingest",
				"submitted", q.submitted.Load(), "dropped", q.dropped.Load(), "pending", len(q.ch))
			return
		case tick := <-q.ch:
			sink.Process(tick)
		}
	}
}

// Len returns the number of queued ticks.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns the total number of dropped ticks.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Submitted returns the total number of accepted ticks.
func (q *Queue) Submitted() uint64 { return q.submitted.Load() }
