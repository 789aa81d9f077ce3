package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the call engine.
type Metrics struct {
	Registry *prometheus.Registry

	SessionState    prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	ChannelMessages *prometheus.CounterVec
	ChannelEvents   *prometheus.CounterVec
	CaptureFrames   *prometheus.CounterVec
	TurnTotal       *prometheus.CounterVec
	TurnLatency     prometheus.Histogram
	ToolCalls       *prometheus.CounterVec
	PlaybackEvents  *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec

	Stages *LatencyWindow
}

// NewMetrics registers instruments on a private registry so several engines
// (and tests) can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Stages:   NewLatencyWindow(128),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while a voice call is active, 0 otherwise.",
		}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		ChannelMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_total",
			Help:      "Duplex channel messages by direction and event.",
		}, []string{"direction", "event"}),
		ChannelEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_events_total",
			Help:      "Duplex channel connection events.",
		}, []string{"event"}),
		CaptureFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_total",
			Help:      "Captured audio frames by outcome.",
		}, []string{"result"}),
		TurnTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"result"}),
		TurnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "Transcript to reply text latency in milliseconds.",
			Buckets:   []float64{250, 500, 750, 1000, 1500, 2000, 3000, 5000, 10000},
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by kind and result.",
		}, []string{"kind", "result"}),
		PlaybackEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_events_total",
			Help:      "Playback and recognition gate events.",
		}, []string{"event"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
	}
	reg.MustRegister(
		m.SessionState,
		m.SessionEvents,
		m.ChannelMessages,
		m.ChannelEvents,
		m.CaptureFrames,
		m.TurnTotal,
		m.TurnLatency,
		m.ToolCalls,
		m.PlaybackEvents,
		m.ProviderErrors,
	)
	return m
}

// ObserveStage records a stage duration; turn_total also feeds the histogram.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	if stage == StageTurnTotal {
		m.TurnLatency.Observe(float64(d.Milliseconds()))
	}
	m.Stages.Observe(stage, d)
}

// Handler serves the metrics of this engine's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
