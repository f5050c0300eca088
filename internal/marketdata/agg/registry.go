package agg

import (
	"sort"
	"sync"
	"time"

	"candle-aggregation/internal/model"
)

// Registry maps instrument → interval → *Window. Windows are created lazily on
// the first tick for an instrument and live as long as the Registry.
//
// Both map levels use sync.Map.LoadOrStore, so concurrent first ticks for the
// same key agree on a single Window; the losers' allocations are discarded.
type Registry struct {
	intervals []model.Interval
	saver     model.CandleSaver

	instruments sync.Map // instrument → *sync.Map (interval label → *Window)

	now func() time.Time

	// Hooks (optional, set before first use)
	OnCandle        func(c model.ClosedCandle)        // called after each closed candle is saved
	OnWindowCreated func(instrument, interval string) // called once per new window
}

// NewRegistry creates a Registry for the given intervals. Closed candles are
// forwarded to saver by CloseAll.
func NewRegistry(intervals []model.Interval, saver model.CandleSaver) *Registry {
	ivs := make([]model.Interval, len(intervals))
	copy(ivs, intervals)
	return &Registry{
		intervals: ivs,
		saver:     saver,
		now:       time.Now,
	}
}

// SetClock replaces the wall clock used to seed new windows.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Intervals returns the configured intervals.
func (r *Registry) Intervals() []model.Interval {
	out := make([]model.Interval, len(r.intervals))
	copy(out, r.intervals)
	return out
}

// Process feeds the tick into the window of every configured interval for
// the tick's instrument, creating windows as needed.
func (r *Registry) Process(tick model.Tick) {
	byInterval := r.intervalMap(tick.Instrument)
	for _, iv := range r.intervals {
		r.window(byInterval, tick.Instrument, iv).Process(tick)
	}
}

func (r *Registry) intervalMap(instrument string) *sync.Map {
	if v, ok := r.instruments.Load(instrument); ok {
		return v.(*sync.Map)
	}
	v, _ := r.instruments.LoadOrStore(instrument, &sync.Map{})
	return v.(*sync.Map)
}

func (r *Registry) window(byInterval *sync.Map, instrument string, iv model.Interval) *Window {
	if v, ok := byInterval.Load(iv.Label); ok {
		return v.(*Window)
	}
	v, loaded := byInterval.LoadOrStore(iv.Label, NewWindow(instrument, iv, r.now()))
	if !loaded && r.OnWindowCreated != nil {
		r.OnWindowCreated(instrument, iv.Label)
	}
	return v.(*Window)
}

// CloseAll closes every live window and saves each non-empty result.
// It returns the number of candles produced. The order in which windows are
// visited is unspecified.
func (r *Registry) CloseAll() int {
	produced := 0
	r.instruments.Range(func(_, v any) bool {
		v.(*sync.Map).Range(func(_, wv any) bool {
			w := wv.(*Window)
			c, ok := w.Close()
			if !ok {
				return true
			}
			r.saver.Save(w.Instrument(), w.Interval(), c)
			produced++
			if r.OnCandle != nil {
				r.OnCandle(model.ClosedCandle{
					Instrument: w.Instrument(),
					Interval:   w.Interval(),
					Candle:     c,
				})
			}
			return true
		})
		return true
	})
	return produced
}

// Lookup returns the live window for (instrument, interval), if any.
func (r *Registry) Lookup(instrument, interval string) (*Window, bool) {
	v, ok := r.instruments.Load(instrument)
	if !ok {
		return nil, false
	}
	wv, ok := v.(*sync.Map).Load(interval)
	if !ok {
		return nil, false
	}
	return wv.(*Window), true
}

// Instruments returns the instruments that have live windows, sorted.
func (r *Registry) Instruments() []string {
	var out []string
	r.instruments.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Len returns the number of live windows across all instruments.
func (r *Registry) Len() int {
	n := 0
	r.instruments.Range(func(_, v any) bool {
		v.(*sync.Map).Range(func(_, _ any) bool {
			n++
			return true
		})
		return true
	})
	return n
}
