package model

// ── Port Interfaces ──
// These interfaces decouple the aggregation core from the concrete store,
// queue and feed implementations.

// Query selects a range of candles for one (instrument, interval) series.
// From and To are inclusive window-start bounds in unix millis; nil means
// unbounded. Limit > 0 keeps only the most recent Limit candles.
type Query struct {
	Instrument string
	Interval   string
	From       *int64
	To         *int64
	Limit      int
}

// CandleSaver accepts closed candles.
type CandleSaver interface {
	// Save inserts or overwrites the candle at candle.WindowStart.
	Save(instrument, interval string, candle Candle)
}

// CandleStore is a time-indexed candle store answering range queries.
type CandleStore interface {
	CandleSaver

	// Query returns candles in ascending WindowStart order.
	// Unknown keys and From > To yield an empty result.
	Query(q Query) []Candle

	// ListInstruments returns every instrument that has had data saved.
	ListInstruments() []string

	// Clear wipes all stored data.
	Clear()
}

// TickSink consumes ticks drained from the ingestion queue.
type TickSink interface {
	Process(tick Tick)
}

// TickSubmitter is the non-blocking, best-effort ingest port.
type TickSubmitter interface {
	// Submit enqueues a tick. Returns false if it was dropped.
	Submit(tick Tick) bool
}
