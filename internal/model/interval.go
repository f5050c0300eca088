package model

import (
	"fmt"
	"strings"
	"time"
)

// Interval is a configured window duration identified by a label, e.g. "1m".
type Interval struct {
	Label    string
	Duration time.Duration
}

// Millis returns the interval duration in milliseconds.
func (i Interval) Millis() int64 {
	return i.Duration.Milliseconds()
}

// DefaultIntervals is the interval set used when none is configured.
var DefaultIntervals = []Interval{
	{Label: "1s", Duration: time.Second},
	{Label: "5s", Duration: 5 * time.Second},
	{Label: "1m", Duration: time.Minute},
	{Label: "5m", Duration: 5 * time.Minute},
	{Label: "15m", Duration: 15 * time.Minute},
	{Label: "1h", Duration: time.Hour},
}

// ParseIntervals parses a comma-separated list of labels such as "1s,5m,1h".
// Each label must be a valid time.ParseDuration string of at least 1ms.
// Duplicate labels are rejected.
func ParseIntervals(s string) ([]Interval, error) {
	var out []Interval
	seen := make(map[string]bool)
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("interval %q: %w", p, err)
		}
		if d < time.Millisecond {
			return nil, fmt.Errorf("interval %q: must be at least 1ms", p)
		}
		if seen[p] {
			return nil, fmt.Errorf("interval %q: duplicate", p)
		}
		seen[p] = true
		out = append(out, Interval{Label: p, Duration: d})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no intervals in %q", s)
	}
	return out, nil
}
