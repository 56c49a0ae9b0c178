package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Every
// method is safe on a nil receiver so components can run unobserved.
type Metrics struct {
	registry *prometheus.Registry

	Runs            *prometheus.CounterVec
	ExtractorStates *prometheus.CounterVec
	Windows         *prometheus.CounterVec
	Artifacts       *prometheus.CounterVec
	Triggers        *prometheus.CounterVec
	InFlight        prometheus.Gauge
	LLMLatency      *prometheus.HistogramVec
}

// NewMetrics registers the service instruments on a private registry, so
// several instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_runs_total",
			Help:      "Generation runs by service and outcome.",
		}, []string{"service", "outcome"}),
		ExtractorStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_states_total",
			Help:      "Per-extractor terminal states by service.",
		}, []string{"service", "state"}),
		Windows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_processed_total",
			Help:      "Interaction windows handed to extractors.",
		}, []string{"service"}),
		Artifacts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_saved_total",
			Help:      "Artifacts persisted by kind.",
		}, []string{"kind"}),
		Triggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Trigger events by result.",
		}, []string{"result"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "triggers_in_flight",
			Help:      "Trigger events currently being processed.",
		}),
		LLMLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "LLM call latency by provider and status.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"provider", "status"}),
	}
}

func (m *Metrics) ObserveRun(service, outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(service, outcome).Inc()
}

func (m *Metrics) ObserveExtractor(service, state string, windows int) {
	if m == nil {
		return
	}
	m.ExtractorStates.WithLabelValues(service, state).Inc()
	if windows > 0 {
		m.Windows.WithLabelValues(service).Add(float64(windows))
	}
}

func (m *Metrics) ObserveArtifacts(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Artifacts.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveTrigger(result string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(result).Inc()
}

func (m *Metrics) TrackInFlight(delta int) {
	if m == nil {
		return
	}
	m.InFlight.Add(float64(delta))
}

func (m *Metrics) ObserveLLM(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.LLMLatency.WithLabelValues(provider, status).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
