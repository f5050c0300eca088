package model

import "encoding/json"

// Candle is the OHLCV summary of all ticks observed in one window.
// Prices are mid prices; Volume is the number of ticks.
type Candle struct {
	WindowStart int64   `json:"time"` // window start, unix millis
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      int64   `json:"volume"`
}

// ClosedCandle is a candle tagged with the series it belongs to.
type ClosedCandle struct {
	Instrument string `json:"symbol"`
	Interval   string `json:"interval"`
	Candle     Candle `json:"candle"`
}

// Key returns "instrument:interval".
func (c *ClosedCandle) Key() string {
	return c.Instrument + ":" + c.Interval
}

// JSON returns the JSON-encoded closed candle (ignoring errors for hot-path usage).
func (c *ClosedCandle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
