package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Pipeline stages tracked by the latency window.
const (
	StageTurn      = "reflection_turn"
	StageSummarize = "summarize"
	StagePlan      = "plan_goals"
	StageSync      = "webhook_sync"
	StageFlush     = "supervisor_flush"
	StageSearch    = "support_search"
	StageLLM       = "llm_call"
)

// stageTargets are the p95 budgets reported next to each stage. StageLLM has none.
var stageTargets = map[string]time.Duration{
	StageTurn:      4 * time.Second,
	StageSummarize: 6 * time.Second,
	StagePlan:      6 * time.Second,
	StageSync:      2 * time.Second,
	StageSearch:    3 * time.Second,
	StageFlush:     15 * time.Second,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// StageSnapshot is the body of /api/perf/latency.
type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// latencyWindow keeps the most recent durations of every stage.
type latencyWindow struct {
	mu     sync.Mutex
	size   int
	stages map[string]*durationRing
}

// durationRing overwrites its oldest sample once full.
type durationRing struct {
	samples []time.Duration
	pos     int
	count   int
}

func (r *durationRing) add(d time.Duration) {
	r.samples[r.pos] = d
	r.pos = (r.pos + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

func (r *durationRing) last() time.Duration {
	return r.samples[(r.pos-1+len(r.samples))%len(r.samples)]
}

// sorted returns the retained samples in ascending order.
func (r *durationRing) sorted() []time.Duration {
	out := make([]time.Duration, r.count)
	copy(out, r.samples[:r.count])
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{size: size, stages: make(map[string]*durationRing)}
}

func (w *latencyWindow) add(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.stages[stage]
	if !ok {
		r = &durationRing{samples: make([]time.Duration, w.size)}
		w.stages[stage] = r
	}
	r.add(d)
}

// stats summarizes every stage with at least one sample, ordered by stage name.
func (w *latencyWindow) stats() []StageStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]StageStats, 0, len(w.stages))
	for stage, r := range w.stages {
		if r.count == 0 {
			continue
		}
		samples := r.sorted()
		var total time.Duration
		for _, d := range samples {
			total += d
		}
		out = append(out, StageStats{
			Stage:       stage,
			Samples:     len(samples),
			LastMS:      millis(r.last()),
			AvgMS:       millis(total / time.Duration(len(samples))),
			P50MS:       millis(nearestRank(samples, 0.50)),
			P95MS:       millis(nearestRank(samples, 0.95)),
			P99MS:       millis(nearestRank(samples, 0.99)),
			TargetP95MS: millis(stageTargets[stage]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// nearestRank picks the smallest sample with at least q of the samples at or below it.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
