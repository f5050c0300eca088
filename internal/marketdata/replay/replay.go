// Package replay feeds recorded ticks back into the ingest queue at a
// configurable speed. Input is newline-delimited model.Tick JSON, e.g. a
// capture of cmd/tickserver output.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"candle-aggregation/internal/model"
)

// maxGap caps a single replay sleep so long recording gaps don't stall.
const maxGap = 5 * time.Second

// Replayer holds a loaded tick recording.
type Replayer struct {
	ticks []model.Tick
}

// Load reads every tick from r and sorts them by timestamp. Blank lines are
// skipped; a malformed line is an error naming its line number.
func Load(r io.Reader) (*Replayer, error) {
	var ticks []model.Tick
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var t model.Tick
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		if t.Instrument == "" {
			return nil, fmt.Errorf("replay: line %d: missing symbol", line)
		}
		ticks = append(ticks, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay: read: %w", err)
	}

	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].TS < ticks[j].TS })
	return &Replayer{ticks: ticks}, nil
}

// Len returns the number of loaded ticks.
func (r *Replayer) Len() int { return len(r.ticks) }

// Run submits every tick to out. speed controls the playback rate:
// 1.0 = recorded pace, 10.0 = 10x, 0 = as fast as possible.
// Returns the number of ticks the submitter accepted. At speed 0 a recording
// larger than a drop-on-full queue's capacity loses ticks; the drop count is
// logged when the replay ends.
func (r *Replayer) Run(ctx context.Context, speed float64, out model.TickSubmitter) (int, error) {
	slog.Info("replay started", "component", "replay", "ticks", len(r.ticks), "speed", speed)

	var prevTS int64
	emitted, dropped := 0, 0
	for i, t := range r.ticks {
		if err := ctx.Err(); err != nil {
			slog.Info("replay cancelled", "component", "replay", "emitted", emitted)
			return emitted, err
		}

		if speed > 0 && i > 0 {
			if gap := time.Duration(t.TS-prevTS) * time.Millisecond; gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = t.TS

		if out.Submit(t) {
			emitted++
		} else {
			dropped++
		}
	}

	if dropped > 0 {
		slog.Warn("replay ticks rejected by ingest queue", "component", "replay",
			"emitted", emitted, "dropped", dropped, "speed", speed,
			"hint", "lower the speed or raise QUEUE_SIZE above the recording size")
	}
	slog.Info("replay completed", "component", "replay", "emitted", emitted, "dropped", dropped)
	return emitted, nil
}
