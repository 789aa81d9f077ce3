package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := NewLatencyWindow(4)
	for _, ms := range []int{100, 200, 300} {
		w.Observe(StageModelCall, time.Duration(ms)*time.Millisecond)
	}
	w.Observe(StageToolCall, 50*time.Millisecond)

	snap := w.Snapshot()
	if snap.WindowSize != 4 {
		t.Fatalf("WindowSize = %d, want 4", snap.WindowSize)
	}
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	model := snap.Stages[0]
	if model.Stage != StageModelCall {
		t.Fatalf("Stages[0] = %q, want %q (sorted)", model.Stage, StageModelCall)
	}
	if model.Samples != 3 || model.AvgMS != 200 || model.P50MS != 200 || model.LastMS != 300 {
		t.Fatalf("unexpected model stats: %+v", model)
	}
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := NewLatencyWindow(2)
	for _, ms := range []int{10, 20, 30} {
		w.Observe(StagePlayback, time.Duration(ms)*time.Millisecond)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %v, want 25 (oldest sample evicted)", s.AvgMS)
	}
}
