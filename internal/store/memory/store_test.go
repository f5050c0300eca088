package memory

import (
	"sync"
	"testing"

	"candle-aggregation/internal/model"
)

const (
	sym = "BTC-USD"
	iv  = "1m"
)

func ptr(v int64) *int64 { return &v }

func candleAt(ts int64) model.Candle {
	return model.Candle{WindowStart: ts, Open: 100, High: 105, Low: 95, Close: 102, Volume: 10}
}

func starts(cs []model.Candle) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.WindowStart
	}
	return out
}

func equalInt64s(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStore_SaveAndQuery(t *testing.T) {
	s := New()
	c := model.Candle{WindowStart: 1000, Open: 100, High: 105, Low: 95, Close: 102, Volume: 10}
	s.Save(sym, iv, c)

	got := s.Query(model.Query{Instrument: sym, Interval: iv})
	if len(got) != 1 || got[0] != c {
		t.Fatalf("expected [%+v], got %+v", c, got)
	}
}

func TestStore_InclusiveRange(t *testing.T) {
	s := New()
	for _, ts := range []int64{1000, 2000, 3000, 4000} {
		s.Save(sym, iv, candleAt(ts))
	}

	got := s.Query(model.Query{Instrument: sym, Interval: iv, From: ptr(2000), To: ptr(3000)})
	if want := []int64{2000, 3000}; !equalInt64s(starts(got), want) {
		t.Errorf("expected %v, got %v", want, starts(got))
	}

	got = s.Query(model.Query{Instrument: sym, Interval: iv, From: ptr(2500)})
	if want := []int64{3000, 4000}; !equalInt64s(starts(got), want) {
		t.Errorf("from-only: expected %v, got %v", want, starts(got))
	}

	got = s.Query(model.Query{Instrument: sym, Interval: iv, To: ptr(2000)})
	if want := []int64{1000, 2000}; !equalInt64s(starts(got), want) {
		t.Errorf("to-only: expected %v, got %v", want, starts(got))
	}
}

func TestStore_MalformedRange(t *testing.T) {
	s := New()
	s.Save(sym, iv, candleAt(1000))

	got := s.Query(model.Query{Instrument: sym, Interval: iv, From: ptr(3000), To: ptr(1000)})
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %v", got)
	}
}

func TestStore_Limit(t *testing.T) {
	s := New()
	for i := int64(1); i <= 10; i++ {
		s.Save(sym, iv, candleAt(i*1000))
	}

	got := s.Query(model.Query{Instrument: sym, Interval: iv, Limit: 5})
	if want := []int64{6000, 7000, 8000, 9000, 10000}; !equalInt64s(starts(got), want) {
		t.Errorf("expected newest 5 %v, got %v", want, starts(got))
	}

	got = s.Query(model.Query{Instrument: sym, Interval: iv, To: ptr(4000), Limit: 2})
	if want := []int64{3000, 4000}; !equalInt64s(starts(got), want) {
		t.Errorf("limit within range: expected %v, got %v", want, starts(got))
	}

	got = s.Query(model.Query{Instrument: sym, Interval: iv, Limit: 0})
	if len(got) != 10 {
		t.Errorf("limit=0 should not trim, got %d", len(got))
	}
	got = s.Query(model.Query{Instrument: sym, Interval: iv, Limit: 50})
	if len(got) != 10 {
		t.Errorf("limit above size should not trim, got %d", len(got))
	}
}

func TestStore_UnknownKeys(t *testing.T) {
	s := New()
	s.Save(sym, iv, candleAt(1000))

	if got := s.Query(model.Query{Instrument: "UNKNOWN", Interval: iv}); len(got) != 0 {
		t.Errorf("unknown instrument: expected empty, got %v", got)
	}
	if got := s.Query(model.Query{Instrument: sym, Interval: "7m"}); len(got) != 0 {
		t.Errorf("unknown interval: expected empty, got %v", got)
	}
}

func TestStore_Overwrite(t *testing.T) {
	s := New()
	s.Save(sym, iv, model.Candle{WindowStart: 1000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	second := model.Candle{WindowStart: 1000, Open: 2, High: 3, Low: 1, Close: 2, Volume: 7}
	s.Save(sym, iv, second)

	got := s.Query(model.Query{Instrument: sym, Interval: iv})
	if len(got) != 1 || got[0] != second {
		t.Errorf("expected single overwritten candle %+v, got %+v", second, got)
	}
}

func TestStore_OutOfOrderSave(t *testing.T) {
	s := New()
	for _, ts := range []int64{3000, 1000, 4000, 2000, 1000} {
		s.Save(sym, iv, candleAt(ts))
	}
	got := s.Query(model.Query{Instrument: sym, Interval: iv})
	if want := []int64{1000, 2000, 3000, 4000}; !equalInt64s(starts(got), want) {
		t.Errorf("expected %v, got %v", want, starts(got))
	}
}

func TestStore_MultipleSymbolsAndIntervals(t *testing.T) {
	s := New()
	s.Save("BTC-USD", "1m", candleAt(1000))
	s.Save("BTC-USD", "5m", candleAt(1000))
	s.Save("ETH-USD", "1m", candleAt(1000))

	for _, k := range [][2]string{{"BTC-USD", "1m"}, {"BTC-USD", "5m"}, {"ETH-USD", "1m"}} {
		if n := s.Len(k[0], k[1]); n != 1 {
			t.Errorf("%s/%s: expected 1 candle, got %d", k[0], k[1], n)
		}
	}

	syms := s.ListInstruments()
	if len(syms) != 2 || syms[0] != "BTC-USD" || syms[1] != "ETH-USD" {
		t.Errorf("expected [BTC-USD ETH-USD], got %v", syms)
	}
}

func TestStore_Clear(t *testing.T) {
	s := New()
	s.Save(sym, iv, candleAt(1000))
	s.Clear()

	if got := s.Query(model.Query{Instrument: sym, Interval: iv}); len(got) != 0 {
		t.Errorf("expected empty after clear, got %v", got)
	}
	if got := s.ListInstruments(); len(got) != 0 {
		t.Errorf("expected no instruments after clear, got %v", got)
	}
}

func TestStore_ResultIsACopy(t *testing.T) {
	s := New()
	s.Save(sym, iv, candleAt(1000))

	got := s.Query(model.Query{Instrument: sym, Interval: iv})
	got[0].Close = -1

	again := s.Query(model.Query{Instrument: sym, Interval: iv})
	if again[0].Close != 102 {
		t.Errorf("query result aliased store memory: %+v", again[0])
	}
}

func TestStore_ConcurrentReadWrite(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for _, interval := range []string{"1s", "5s", "1m", "5m"} {
		wg.Add(1)
		go func(interval string) {
			defer wg.Done()
			for i := int64(0); i < 500; i++ {
				s.Save(sym, interval, candleAt(i*1000))
			}
		}(interval)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			got := s.Query(model.Query{Instrument: sym, Interval: "1s"})
			for j := 1; j < len(got); j++ {
				if got[j-1].WindowStart >= got[j].WindowStart {
					t.Errorf("result not strictly ascending at %d", j)
					return
				}
			}
		}
	}()
	wg.Wait()

	for _, interval := range []string{"1s", "5s", "1m", "5m"} {
		if n := s.Len(sym, interval); n != 500 {
			t.Errorf("%s: expected 500 candles, got %d", interval, n)
		}
	}
}

func TestStore_SaveRacingClear(t *testing.T) {
	s := New()
	const saves = 2000
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.Clear()
			}
		}
	}()

	for i := int64(0); i < saves; i++ {
		s.Save(sym, iv, candleAt(i*1000))
	}
	close(stop)
	wg.Wait()

	// Saves are sequential and Clear wipes everything, so the survivors
	// must be a gap-free run ending at the last save.
	got := s.Query(model.Query{Instrument: sym, Interval: iv})
	for j := range got {
		want := int64(saves-len(got)+j) * 1000
		if got[j].WindowStart != want {
			t.Fatalf("survivor %d: expected window %d, got %d", j, want, got[j].WindowStart)
		}
	}

	// With clearing stopped, every save is visible.
	s.Save(sym, iv, candleAt(saves*1000))
	if n := s.Len(sym, iv); n != len(got)+1 {
		t.Errorf("expected %d candles after final save, got %d", len(got)+1, n)
	}
}
