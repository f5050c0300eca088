package sqlite

import (
	"testing"

	"candle-aggregation/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DSN: "file:" + t.Name() + "?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(v int64) *int64 { return &v }

func TestStore_RangeAndLimit(t *testing.T) {
	s := newTestStore(t)
	for i := int64(1); i <= 10; i++ {
		s.Save("BTC-USD", "1m", model.Candle{WindowStart: i * 1000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: i})
	}

	got := s.Query(model.Query{Instrument: "BTC-USD", Interval: "1m", From: ptr(2000), To: ptr(3000)})
	if len(got) != 2 || got[0].WindowStart != 2000 || got[1].WindowStart != 3000 {
		t.Errorf("inclusive range: unexpected %+v", got)
	}

	got = s.Query(model.Query{Instrument: "BTC-USD", Interval: "1m", Limit: 3})
	if len(got) != 3 || got[0].WindowStart != 8000 || got[2].WindowStart != 10000 {
		t.Errorf("limit: expected newest three ascending, got %+v", got)
	}

	if got := s.Query(model.Query{Instrument: "BTC-USD", Interval: "1m", From: ptr(5000), To: ptr(1000)}); len(got) != 0 {
		t.Errorf("from > to: expected empty, got %+v", got)
	}
	if got := s.Query(model.Query{Instrument: "NOPE", Interval: "1m"}); len(got) != 0 {
		t.Errorf("unknown instrument: expected empty, got %+v", got)
	}
}

func TestStore_OverwriteAndClear(t *testing.T) {
	s := newTestStore(t)
	s.Save("ETH-USD", "5s", model.Candle{WindowStart: 5000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	second := model.Candle{WindowStart: 5000, Open: 2, High: 4, Low: 1, Close: 3, Volume: 9}
	s.Save("ETH-USD", "5s", second)
	s.Save("AAPL", "5s", model.Candle{WindowStart: 5000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})

	got := s.Query(model.Query{Instrument: "ETH-USD", Interval: "5s"})
	if len(got) != 1 || got[0] != second {
		t.Errorf("expected overwritten candle %+v, got %+v", second, got)
	}

	syms := s.ListInstruments()
	if len(syms) != 2 || syms[0] != "AAPL" || syms[1] != "ETH-USD" {
		t.Errorf("expected [AAPL ETH-USD], got %v", syms)
	}

	s.Clear()
	if got := s.ListInstruments(); len(got) != 0 {
		t.Errorf("expected no instruments after clear, got %v", got)
	}
}

func TestStore_ListInstrumentsReportsErrors(t *testing.T) {
	s := newTestStore(t)
	s.Save("BTC-USD", "1m", model.Candle{WindowStart: 1000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})

	var ops []string
	s.OnError = func(op string, _ error) { ops = append(ops, op) }
	s.Close()

	if got := s.ListInstruments(); len(got) != 0 {
		t.Errorf("expected empty list from a failed statement, got %v", got)
	}
	if len(ops) != 1 || ops[0] != "list" {
		t.Errorf("expected one list error, got %v", ops)
	}
}
