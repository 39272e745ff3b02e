package observability

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	LLMRequests    *prometheus.CounterVec
	MemoryWrites   *prometheus.CounterVec
	FlushRuns      *prometheus.CounterVec
	FlushLatency   prometheus.Histogram
	SearchRequests *prometheus.CounterVec
	WebhookSyncs   *prometheus.CounterVec
	PendingUsers   prometheus.Gauge
	Indicators     *prometheus.CounterVec

	latency *latencyWindow

	mu         sync.Mutex
	indicators map[string]int
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open reflection sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Reflection session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		LLMRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Model completions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		MemoryWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Memory record writes by collection and outcome.",
		}, []string{"collection", "outcome"}),
		FlushRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_runs_total",
			Help:      "Supervisor flushes by status.",
		}, []string{"status"}),
		FlushLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_latency_ms",
			Help:      "Supervisor flush latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}),
		SearchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "External search requests by outcome.",
		}, []string{"outcome"}),
		WebhookSyncs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_syncs_total",
			Help:      "Goal webhook deliveries by status.",
		}, []string{"status"}),
		PendingUsers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_users",
			Help:      "Users with unflushed supervisor data.",
		}),
		Indicators: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degradation_events_total",
			Help:      "Fallbacks and other degraded outcomes by name.",
		}, []string{"name"}),
		latency:    newLatencyWindow(256),
		indicators: make(map[string]int),
	}
}

func (m *Metrics) ObserveFlush(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.FlushRuns.WithLabelValues(status).Inc()
	m.FlushLatency.Observe(float64(d.Milliseconds()))
	m.ObserveStage(StageFlush, d)
}

func (m *Metrics) ObserveLLM(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(provider, outcome).Inc()
	m.ObserveStage(StageLLM, d)
}

func (m *Metrics) ObserveMemoryWrite(collection, outcome string) {
	if m == nil {
		return
	}
	m.MemoryWrites.WithLabelValues(collection, outcome).Inc()
}

// ObserveStage records a pipeline stage latency in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.add(stage, d)
}

// ObserveIndicator counts a degraded outcome such as a summary fallback.
func (m *Metrics) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if m == nil || name == "" {
		return
	}
	m.Indicators.WithLabelValues(name).Inc()
	m.mu.Lock()
	m.indicators[name]++
	m.mu.Unlock()
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{Stages: []StageStats{}}
	}
	m.mu.Lock()
	indicators := make([]Indicator, 0, len(m.indicators))
	for name, n := range m.indicators {
		indicators = append(indicators, Indicator{Name: name, Count: n})
	}
	m.mu.Unlock()
	sort.Slice(indicators, func(i, j int) bool { return indicators[i].Name < indicators[j].Name })

	return StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  m.latency.size,
		Stages:      m.latency.stats(),
		Indicators:  indicators,
	}
}

// ObserveSearch counts one external search by outcome.
func (m *Metrics) ObserveSearch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchRequests.WithLabelValues(outcome).Inc()
	m.ObserveStage(StageSearch, d)
}

func (m *Metrics) ObserveWebhook(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.WebhookSyncs.WithLabelValues(status).Inc()
	m.ObserveStage(StageSync, d)
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) SetPendingUsers(n int) {
	if m == nil {
		return
	}
	m.PendingUsers.Set(float64(n))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
