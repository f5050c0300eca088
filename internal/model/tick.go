package model

// Tick is a single bid/ask quote observation for one instrument.
type Tick struct {
	Instrument string  `json:"symbol"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	TS         int64   `json:"timestamp"` // unix millis
}

// Mid returns the mid price (bid+ask)/2, the value windows aggregate.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}
