package replay

import (
	"context"
	"strings"
	"testing"
	"time"

	"candle-aggregation/internal/model"
)

type sliceSubmitter struct {
	ticks []model.Tick
}

func (s *sliceSubmitter) Submit(t model.Tick) bool {
	s.ticks = append(s.ticks, t)
	return true
}

const recording = `{"symbol":"ETH-USD","bid":3500,"ask":3501,"timestamp":2000}

{"symbol":"BTC-USD","bid":95000,"ask":95010,"timestamp":1000}
{"symbol":"ETH-USD","bid":3502,"ask":3503,"timestamp":2050}
`

func TestLoad_SortsByTimestamp(t *testing.T) {
	r, err := Load(strings.NewReader(recording))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 ticks, got %d", r.Len())
	}
	if r.ticks[0].Instrument != "BTC-USD" || r.ticks[2].TS != 2050 {
		t.Errorf("unexpected order %+v", r.ticks)
	}
}

func TestLoad_Malformed(t *testing.T) {
	if _, err := Load(strings.NewReader("{\"symbol\":\"A\",\"bid\":1,\"ask\":1}\nnope\n")); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line 2 error, got %v", err)
	}
	if _, err := Load(strings.NewReader(`{"bid":1,"ask":1}`)); err == nil {
		t.Error("expected error for missing symbol")
	}
}

func TestRun_AsFastAsPossible(t *testing.T) {
	r, _ := Load(strings.NewReader(recording))
	out := &sliceSubmitter{}
	n, err := r.Run(context.Background(), 0, out)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 ticks without error, got %d %v", n, err)
	}
	if out.ticks[1].Mid() != 3500.5 {
		t.Errorf("unexpected second tick %+v", out.ticks[1])
	}
}

func TestRun_ScaledGaps(t *testing.T) {
	r, _ := Load(strings.NewReader(recording))
	start := time.Now()
	// 1050ms of recorded gaps at 10x is ~105ms.
	if _, err := r.Run(context.Background(), 10, &sliceSubmitter{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if took := time.Since(start); took < 90*time.Millisecond {
		t.Errorf("expected scaled gaps to be honoured, took %v", took)
	}
}

func TestRun_Cancelled(t *testing.T) {
	r, _ := Load(strings.NewReader(recording))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n, err := r.Run(ctx, 1, &sliceSubmitter{}); err == nil || n != 0 {
		t.Errorf("expected cancellation before any tick, got %d %v", n, err)
	}
}

// boundedSubmitter accepts up to capacity ticks, like a full ingest queue.
type boundedSubmitter struct {
	capacity int
	accepted []model.Tick
}

func (b *boundedSubmitter) Submit(t model.Tick) bool {
	if len(b.accepted) >= b.capacity {
		return false
	}
	b.accepted = append(b.accepted, t)
	return true
}

func TestRun_CountsOnlyAcceptedTicks(t *testing.T) {
	r, _ := Load(strings.NewReader(recording))
	out := &boundedSubmitter{capacity: 1}

	n, err := r.Run(context.Background(), 0, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 || len(out.accepted) != 1 {
		t.Errorf("expected 1 accepted tick of 3, got n=%d accepted=%d", n, len(out.accepted))
	}
	if out.accepted[0].Instrument != "BTC-USD" {
		t.Errorf("expected the earliest tick to be accepted, got %+v", out.accepted[0])
	}
}
