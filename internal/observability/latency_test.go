package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowStats(t *testing.T) {
	w := newLatencyWindow(8)
	for _, ms := range []int{500, 700, 900} {
		w.add(StageSearch, time.Duration(ms)*time.Millisecond)
	}
	w.add(StageLLM, 1500*time.Microsecond)

	stats := w.stats()
	if len(stats) != 2 || stats[0].Stage != StageLLM || stats[1].Stage != StageSearch {
		t.Fatalf("stats = %+v, want llm_call then support_search", stats)
	}
	if stats[0].LastMS != 1.5 || stats[0].TargetP95MS != 0 {
		t.Fatalf("llm stats = %+v", stats[0])
	}
	s := stats[1]
	if s.Samples != 3 || s.LastMS != 900 || s.AvgMS != 700 {
		t.Fatalf("search stats = %+v", s)
	}
	if s.P50MS != 700 || s.P95MS != 900 || s.P99MS != 900 {
		t.Fatalf("percentiles = %.2f %.2f %.2f, want 700 900 900", s.P50MS, s.P95MS, s.P99MS)
	}
	if s.TargetP95MS != 3000 {
		t.Fatalf("TargetP95MS = %.2f, want 3000", s.TargetP95MS)
	}
}

func TestLatencyWindowKeepsNewestSamples(t *testing.T) {
	w := newLatencyWindow(4)
	for i := 1; i <= 6; i++ {
		w.add(StageFlush, time.Duration(i*10)*time.Millisecond)
	}
	w.add(StageFlush, -time.Second)

	s := w.stats()[0]
	if s.Samples != 4 || s.LastMS != 60 {
		t.Fatalf("stats = %+v, want 4 samples ending at 60ms", s)
	}
	if s.AvgMS != 45 || s.P50MS != 40 {
		t.Fatalf("AvgMS = %.2f P50MS = %.2f, want 45 and 40 over the newest four", s.AvgMS, s.P50MS)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics("unhabit_observability_test")
	m.ObserveFlush("success", 120*time.Millisecond)
	m.ObserveIndicator("summary_fallback")
	m.ObserveIndicator("summary_fallback")
	m.ObserveIndicator(" ")

	snap := m.SnapshotStages()
	if snap.WindowSize != 256 {
		t.Fatalf("WindowSize = %d, want 256", snap.WindowSize)
	}
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != StageFlush || snap.Stages[0].LastMS != 120 {
		t.Fatalf("stages = %+v, want one flush stage at 120ms", snap.Stages)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0] != (Indicator{Name: "summary_fallback", Count: 2}) {
		t.Fatalf("indicators = %+v", snap.Indicators)
	}

	var nilMetrics *Metrics
	if got := nilMetrics.SnapshotStages(); got.Stages == nil {
		t.Fatalf("nil Metrics snapshot should carry an empty stage list")
	}
}
