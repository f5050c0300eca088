// Package bus distributes closed candles to downstream consumers.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"candle-aggregation/internal/model"
)

// FanOut broadcasts closed candles from a single input channel to N output
// channels. If an output channel is full, the candle is dropped for that
// consumer so a slow consumer cannot stall the close cycle.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.ClosedCandle
	bufSize int

	in chan model.ClosedCandle

	// OnDrop is called when a candle is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer; -1 means the
	// input itself was full.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for its input and output channels.
func New(bufferSize int) *FanOut {
	return &FanOut{
		bufSize: bufferSize,
		in:      make(chan model.ClosedCandle, bufferSize),
	}
}

// Subscribe creates and returns a new output channel.
// Must be called before Run.
func (f *FanOut) Subscribe() <-chan model.ClosedCandle {
	ch := make(chan model.ClosedCandle, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Publish offers a candle to the fan-out without blocking. It is shaped to be
// used directly as the registry's OnCandle hook.
func (f *FanOut) Publish(c model.ClosedCandle) {
	select {
	case f.in <- c:
	default:
		f.dropped(-1, c)
	}
}

// Run reads published candles and fans out to all subscribers.
// Blocks until ctx is cancelled; output channels are closed on return.
func (f *FanOut) Run(ctx context.Context) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-f.in:
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- c:
				default:
					f.dropped(i, c)
				}
			}
			f.mu.RUnlock()
		}
	}
}

func (f *FanOut) dropped(idx int, c model.ClosedCandle) {
	if f.OnDrop != nil {
		f.OnDrop(idx)
		return
	}
	slog.Warn("fan-out channel full, dropping candle", "component", "bus",
		"subscriber", idx, "key", c.Key(), "window_start", c.Candle.WindowStart)
}

// ChannelStat reports the fill level of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns (length, capacity) for each subscriber channel.
// Used for reporting channel saturation percentage.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
