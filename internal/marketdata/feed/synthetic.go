// Package feed produces synthetic bid/ask ticks for demo and staging runs.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"candle-aggregation/internal/model"
)

// Instrument is one simulated symbol and the price it oscillates around.
type Instrument struct {
	Symbol    string
	BasePrice float64
}

// DefaultInstruments are used when no symbols are configured.
var DefaultInstruments = []Instrument{
	{Symbol: "AAPL", BasePrice: 180},
	{Symbol: "BTC-USD", BasePrice: 95000},
	{Symbol: "ETH-USD", BasePrice: 3500},
	{Symbol: "SOL-USD", BasePrice: 200},
}

const (
	// variation is the full width of the random band around the base price (±0.05%).
	variation = 0.001
	// spread is the ask-bid distance as a fraction of the base price.
	spread = 0.0001
)

// Synthetic emits one tick per instrument every Every.
type Synthetic struct {
	instruments []Instrument
	every       time.Duration
	rng         *rand.Rand
}

// NewSynthetic creates a synthetic feed. Empty instruments selects
// DefaultInstruments; non-positive every selects 100ms.
func NewSynthetic(instruments []Instrument, every time.Duration, seed int64) *Synthetic {
	if len(instruments) == 0 {
		instruments = DefaultInstruments
	}
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	return &Synthetic{
		instruments: instruments,
		every:       every,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Generate builds one tick per instrument stamped with now.
// Not safe for concurrent use.
func (s *Synthetic) Generate(now time.Time) []model.Tick {
	ticks := make([]model.Tick, 0, len(s.instruments))
	for _, in := range s.instruments {
		bid := in.BasePrice + in.BasePrice*variation*(s.rng.Float64()-0.5)
		ticks = append(ticks, model.Tick{
			Instrument: in.Symbol,
			Bid:        bid,
			Ask:        bid + in.BasePrice*spread,
			TS:         now.UnixMilli(),
		})
	}
	return ticks
}

// Run submits generated ticks until ctx is cancelled. Dropped submissions are
// not retried.
func (s *Synthetic) Run(ctx context.Context, out model.TickSubmitter) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	slog.Info("synthetic feed started", "component", "feed",
		"instruments", len(s.instruments), "every", s.every.String())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, t := range s.Generate(now) {
				out.Submit(t)
			}
		}
	}
}

// ParseInstruments parses "SYMBOL:PRICE,SYMBOL:PRICE". A symbol without a
// price falls back to the matching default or 100.
func ParseInstruments(s string) ([]Instrument, error) {
	defaults := make(map[string]float64, len(DefaultInstruments))
	for _, in := range DefaultInstruments {
		defaults[in.Symbol] = in.BasePrice
	}

	var out []Instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.SplitN(part, ":", 2)
		sym := strings.TrimSpace(seg[0])
		if sym == "" {
			return nil, fmt.Errorf("empty symbol in %q", part)
		}
		price, ok := defaults[sym]
		if !ok {
			price = 100
		}
		if len(seg) == 2 {
			p, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
			if err != nil || p <= 0 {
				return nil, fmt.Errorf("invalid price in %q", part)
			}
			price = p
		}
		out = append(out, Instrument{Symbol: sym, BasePrice: price})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
