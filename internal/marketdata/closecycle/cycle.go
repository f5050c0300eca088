// Package closecycle fires the registry's window close at a fixed cadence.
package closecycle

import (
	"context"
	"log/slog"
	"time"
)

// DefaultEvery is the close cadence used when none is configured.
const DefaultEvery = time.Second

// Closer finalizes all open windows and reports how many candles it produced.
type Closer interface {
	CloseAll() int
}

// Cycle calls Closer.CloseAll every Every, independent of tick volume.
type Cycle struct {
	closer Closer
	every  time.Duration

	// OnCycle is called after each close with the number of candles produced
	// and how long the close took (optional).
	OnCycle func(produced int, took time.Duration)
}

// New creates a Cycle. A non-positive every selects DefaultEvery.
func New(closer Closer, every time.Duration) *Cycle {
	if every <= 0 {
		every = DefaultEvery
	}
	return &Cycle{closer: closer, every: every}
}

// Every returns the close cadence.
func (c *Cycle) Every() time.Duration { return c.every }

// Run blocks until ctx is cancelled, closing windows on every tick of the
// timer. A close already in progress when ctx is cancelled runs to completion.
func (c *Cycle) Run(ctx context.Context) {
	ticker := time.NewTicker(c.every)
	defer ticker.Stop()

	slog.Info("close cycle started", "component", "closecycle", "every", c.every.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("close cycle stopped", "component", "closecycle")
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick runs a single close.
func (c *Cycle) Tick() int {
	start := time.Now()
	produced := c.closer.CloseAll()
	took := time.Since(start)
	if produced > 0 {
		slog.Debug("windows closed", "component", "closecycle", "candles", produced, "took", took.String())
	}
	if c.OnCycle != nil {
		c.OnCycle(produced, took)
	}
	return produced
}
