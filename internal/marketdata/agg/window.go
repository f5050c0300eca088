// Package agg builds OHLCV candles from a stream of bid/ask ticks.
//
// A Window accumulates one (instrument, interval) series. The Registry owns
// every Window and fans each tick out to all configured intervals; the close
// cycle calls Registry.CloseAll at a fixed cadence to finalize windows.
package agg

import (
	"math"
	"sync"
	"time"

	"candle-aggregation/internal/model"
)

// Window holds the forming candle for one (instrument, interval) pair.
//
// windowStart is seeded once from wall-clock truncation and afterwards only
// advances by exactly one interval per Close call. A delayed or skipped close
// cycle therefore shifts the logical window away from the wall clock for good;
// nothing re-aligns it.
type Window struct {
	instrument string
	interval   string
	stepMillis int64

	mu          sync.Mutex
	windowStart int64
	hasData     bool
	open        float64
	high        float64
	low         float64
	close       float64
	volume      int64
}

// NewWindow creates a Window whose first window starts at now truncated to
// the interval duration.
func NewWindow(instrument string, iv model.Interval, now time.Time) *Window {
	step := iv.Millis()
	nowMs := now.UnixMilli()
	return &Window{
		instrument:  instrument,
		interval:    iv.Label,
		stepMillis:  step,
		windowStart: nowMs / step * step,
		high:        math.Inf(-1),
		low:         math.Inf(1),
	}
}

// Instrument returns the instrument this window aggregates.
func (w *Window) Instrument() string { return w.instrument }

// Interval returns the interval label.
func (w *Window) Interval() string { return w.interval }

// WindowStart returns the start of the currently forming window (unix millis).
func (w *Window) WindowStart() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.windowStart
}

// Process folds the tick's mid price into the forming candle.
func (w *Window) Process(tick model.Tick) {
	mid := tick.Mid()

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.hasData {
		w.open = mid
		w.hasData = true
	}
	if mid > w.high {
		w.high = mid
	}
	if mid < w.low {
		w.low = mid
	}
	w.close = mid
	w.volume++
}

// Close finalizes the forming window and starts the next one.
// It returns false when the window saw no ticks; the window start advances
// either way. Snapshot, reset and advance happen under one lock, so a
// concurrent Process lands entirely in one window or the other.
func (w *Window) Close() (model.Candle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := w.windowStart
	w.windowStart += w.stepMillis

	if !w.hasData {
		return model.Candle{}, false
	}

	c := model.Candle{
		WindowStart: start,
		Open:        w.open,
		High:        w.high,
		Low:         w.low,
		Close:       w.close,
		Volume:      w.volume,
	}

	w.hasData = false
	w.open = 0
	w.high = math.Inf(-1)
	w.low = math.Inf(1)
	w.close = 0
	w.volume = 0

	return c, true
}
