// Package memory provides the in-process time-series candle store.
package memory

import (
	"sort"
	"sync"

	"candle-aggregation/internal/model"
)

// series is one (instrument, interval) collection ordered by WindowStart.
type series struct {
	mu      sync.RWMutex
	candles []model.Candle
}

// Store keeps closed candles per instrument and interval in memory.
// Writes to distinct series do not contend; readers get a copy, so they
// never observe a partially inserted candle.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]*series // instrument → interval → series
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string]map[string]*series)}
}

// Save inserts the candle at candle.WindowStart, replacing any candle already
// stored at that window start. The index lock is held (shared) for the whole
// insert, so a concurrent Clear either wipes the candle or happens before it;
// the candle never lands in a series Clear has already detached.
func (s *Store) Save(instrument, interval string, c model.Candle) {
	s.mu.RLock()
	if sr, ok := s.data[instrument][interval]; ok {
		sr.insert(c)
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(instrument, interval).insert(c)
}

func (sr *series) insert(c model.Candle) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	n := len(sr.candles)
	// Closed candles almost always arrive in order: append fast path.
	if n == 0 || sr.candles[n-1].WindowStart < c.WindowStart {
		sr.candles = append(sr.candles, c)
		return
	}

	i := sort.Search(n, func(i int) bool { return sr.candles[i].WindowStart >= c.WindowStart })
	if i < n && sr.candles[i].WindowStart == c.WindowStart {
		sr.candles[i] = c
		return
	}
	sr.candles = append(sr.candles, model.Candle{})
	copy(sr.candles[i+1:], sr.candles[i:])
	sr.candles[i] = c
}

// getOrCreateLocked requires s.mu held for writing.
func (s *Store) getOrCreateLocked(instrument, interval string) *series {
	byInterval, ok := s.data[instrument]
	if !ok {
		byInterval = make(map[string]*series)
		s.data[instrument] = byInterval
	}
	sr, ok := byInterval[interval]
	if !ok {
		sr = &series{}
		byInterval[interval] = sr
	}
	return sr
}

func (s *Store) lookup(instrument, interval string) *series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[instrument][interval]
}

// Query returns the candles of one series in ascending WindowStart order.
// From/To are inclusive. Unknown keys and From > To give an empty result.
// With Limit > 0, only the newest Limit candles are kept.
func (s *Store) Query(q model.Query) []model.Candle {
	if q.From != nil && q.To != nil && *q.From > *q.To {
		return []model.Candle{}
	}
	sr := s.lookup(q.Instrument, q.Interval)
	if sr == nil {
		return []model.Candle{}
	}

	sr.mu.RLock()
	defer sr.mu.RUnlock()

	lo, hi := 0, len(sr.candles)
	if q.From != nil {
		from := *q.From
		lo = sort.Search(len(sr.candles), func(i int) bool { return sr.candles[i].WindowStart >= from })
	}
	if q.To != nil {
		to := *q.To
		hi = sort.Search(len(sr.candles), func(i int) bool { return sr.candles[i].WindowStart > to })
	}
	if lo >= hi {
		return []model.Candle{}
	}
	if q.Limit > 0 && hi-lo > q.Limit {
		lo = hi - q.Limit
	}

	out := make([]model.Candle, hi-lo)
	copy(out, sr.candles[lo:hi])
	return out
}

// ListInstruments returns every instrument that has had data saved, sorted.
func (s *Store) ListInstruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for instrument := range s.data {
		out = append(out, instrument)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of candles stored for (instrument, interval).
func (s *Store) Len(instrument, interval string) int {
	sr := s.lookup(instrument, interval)
	if sr == nil {
		return 0
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.candles)
}

// Clear wipes all stored data.
func (s *Store) Clear() {
	s.mu.Lock()
	s.data = make(map[string]map[string]*series)
	s.mu.Unlock()
}
