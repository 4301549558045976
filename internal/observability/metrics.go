package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/queryguard/queryguard/pkg/alerting"
	"github.com/queryguard/queryguard/pkg/breaker"
	"github.com/queryguard/queryguard/pkg/metrics"
)

// Metrics holds all Prometheus metrics exported by the query layer
type Metrics struct {
	registry *prometheus.Registry

	// Breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerRejections  *prometheus.CounterVec

	// Query metrics
	QueryDuration *prometheus.HistogramVec
	QueriesTotal  *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
	DedupSavings  *prometheus.CounterVec

	// Alert metrics
	AlertsTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "queryguard",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics on a dedicated
// registry.
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"resource"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"resource", "from", "to"},
		),
		BreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "breaker_failures_total",
				Help:      "Total number of classified failures seen by breakers",
			},
			[]string{"resource", "kind"},
		),

		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "query_duration_seconds",
				Help:      "Tracked query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"resource", "cache_hit"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "queries_total",
				Help:      "Total number of tracked queries",
			},
			[]string{"resource", "status"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by outcome",
			},
			[]string{"resource", "hit"},
		),
		DedupSavings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "dedup_savings_total",
				Help:      "Queries served by collapsing duplicate in-flight requests",
			},
			[]string{"resource"},
		),

		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "alerts_total",
				Help:      "Alerts raised by kind and severity",
			},
			[]string{"kind", "severity"},
		),
	}

	m.registry.MustRegister(
		m.BreakerState,
		m.BreakerTransitions,
		m.BreakerRejections,
		m.QueryDuration,
		m.QueriesTotal,
		m.CacheLookups,
		m.DedupSavings,
		m.AlertsTotal,
	)
	return m
}

// ObserveBreakerEvent records breaker transitions and classified failures.
// It satisfies breaker.Listener.
func (m *Metrics) ObserveBreakerEvent(ev breaker.Event) {
	if m.registry == nil {
		return
	}

	switch ev.Type {
	case breaker.EventStateChange:
		m.BreakerState.WithLabelValues(ev.Resource).Set(float64(ev.To))
		m.BreakerTransitions.WithLabelValues(ev.Resource, ev.From.String(), ev.To.String()).Inc()
	case breaker.EventFailure:
		m.BreakerRejections.WithLabelValues(ev.Resource, string(ev.Classification.Kind)).Inc()
	}
}

// ObserveSample records a completed query sample
func (m *Metrics) ObserveSample(s metrics.Sample) {
	if m.registry == nil {
		return
	}

	hit := "false"
	if s.CacheHit {
		hit = "true"
	}
	m.QueryDuration.WithLabelValues(s.Resource, hit).Observe(s.Duration.Seconds())
	m.CacheLookups.WithLabelValues(s.Resource, hit).Inc()

	status := "success"
	if s.Failed() {
		status = "error"
	}
	m.QueriesTotal.WithLabelValues(s.Resource, status).Inc()

	if s.DedupSaved {
		m.DedupSavings.WithLabelValues(s.Resource).Inc()
	}
}

// ObserveAlert counts a raised alert
func (m *Metrics) ObserveAlert(a alerting.Alert) {
	if m.registry == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(string(a.Kind), a.Severity.String()).Inc()
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
