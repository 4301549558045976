package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/queryguard/queryguard/pkg/alerting"
	"github.com/queryguard/queryguard/pkg/breaker"
	"github.com/queryguard/queryguard/pkg/errors"
	"github.com/queryguard/queryguard/pkg/logging"
	"github.com/queryguard/queryguard/pkg/metrics"
)

// Thresholds are the live limits evaluated after every completed sample.
type Thresholds struct {
	// MaxQueryTime flags individual slow executions
	MaxQueryTime time.Duration `json:"max_query_time"`
	// MinCacheHitRate is the cache hit percentage floor for the window
	MinCacheHitRate float64 `json:"min_cache_hit_rate"`
	// MaxErrorRate is the error percentage ceiling for the window
	MaxErrorRate float64 `json:"max_error_rate"`
	// MaxAuthDelay flags slow token refresh on individual samples
	MaxAuthDelay time.Duration `json:"max_auth_delay"`
	// DegradationThreshold is the percent slowdown of the evaluation window
	// against the full retained buffer that counts as degradation
	DegradationThreshold float64 `json:"degradation_threshold"`
}

// DefaultThresholds returns the live threshold defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxQueryTime:         2 * time.Second,
		MinCacheHitRate:      30,
		MaxErrorRate:         10,
		MaxAuthDelay:         500 * time.Millisecond,
		DegradationThreshold: 50,
	}
}

// ThresholdPatch updates a subset of thresholds without restart. Nil fields
// keep their current value.
type ThresholdPatch struct {
	MaxQueryTime         *time.Duration `json:"max_query_time,omitempty"`
	MinCacheHitRate      *float64       `json:"min_cache_hit_rate,omitempty"`
	MaxErrorRate         *float64       `json:"max_error_rate,omitempty"`
	MaxAuthDelay         *time.Duration `json:"max_auth_delay,omitempty"`
	DegradationThreshold *float64       `json:"degradation_threshold,omitempty"`
}

// Outcome carries the completion fields for a tracked sample.
type Outcome struct {
	CacheHit       bool             `json:"cache_hit"`
	DedupSaved     bool             `json:"dedup_saved"`
	ResultCount    int              `json:"result_count"`
	ErrorKind      errors.ErrorKind `json:"error_kind,omitempty"`
	RetryCount     int              `json:"retry_count"`
	AuthDelay      time.Duration    `json:"auth_delay,omitempty"`
	NetworkTime    time.Duration    `json:"network_time,omitempty"`
	ProcessingTime time.Duration    `json:"processing_time,omitempty"`
	CircuitState   breaker.State    `json:"circuit_state"`
}

// Config holds monitor configuration
type Config struct {
	// MaxSamples caps the completed sample ring
	MaxSamples int
	// MaxSampleAge bounds how old a retained sample may be when read
	MaxSampleAge time.Duration
	// EvaluationWindow is the short rolling window for rate thresholds
	EvaluationWindow time.Duration
	// MinWindowSamples gates rate evaluation until enough traffic exists
	MinWindowSamples int
	Thresholds       Thresholds
	// Clock overrides time.Now, used by tests
	Clock  func() time.Time
	Logger *logging.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxSamples <= 0 {
		c.MaxSamples = 1000
	}
	if c.MaxSampleAge <= 0 {
		c.MaxSampleAge = 30 * time.Minute
	}
	if c.EvaluationWindow <= 0 {
		c.EvaluationWindow = time.Minute
	}
	if c.MinWindowSamples <= 0 {
		c.MinWindowSamples = 10
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = logging.GetLogger()
	}
}

// Monitor records start/end events for tracked query executions, retains a
// bounded ring of completed samples, and evaluates live thresholds after
// every completion. Reads snapshot the ring and never block writers for the
// duration of aggregation.
type Monitor struct {
	cfg    Config
	logger *logging.Logger

	mu         sync.RWMutex
	thresholds Thresholds
	pending    map[string]metrics.Sample
	ring       *sampleRing

	// windowAlertAt dedups rolling-window alerts per reason
	windowAlertAt map[string]time.Time

	subMu      sync.Mutex
	nextSubID  uint64
	alertSubs  map[uint64]func(alerting.Alert)
	sampleSubs map[uint64]func(metrics.Sample)
}

// New creates a query performance monitor
func New(cfg Config) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:           cfg,
		logger:        cfg.Logger,
		thresholds:    cfg.Thresholds,
		pending:       make(map[string]metrics.Sample),
		ring:          newSampleRing(cfg.MaxSamples),
		windowAlertAt: make(map[string]time.Time),
		alertSubs:     make(map[uint64]func(alerting.Alert)),
		sampleSubs:    make(map[uint64]func(metrics.Sample)),
	}
}

// StartTracking opens a sample for a query execution and returns its id
func (m *Monitor) StartTracking(ctx context.Context, resource string, priority metrics.Priority) string {
	id := uuid.New().String()
	now := m.cfg.Clock()

	m.mu.Lock()
	m.prunePendingLocked(now)
	m.pending[id] = metrics.Sample{
		ID:        id,
		Resource:  resource,
		Priority:  priority,
		StartTime: now,
	}
	m.mu.Unlock()

	if correlationID := logging.GetCorrelationID(ctx); correlationID != "" {
		m.logger.Debug("Tracking started",
			"sample_id", id,
			"resource", resource,
			"correlation_id", correlationID,
		)
	}
	return id
}

// EndTracking completes the sample and evaluates live thresholds. Unknown or
// already-completed ids are rejected.
func (m *Monitor) EndTracking(id string, out Outcome) error {
	now := m.cfg.Clock()

	m.mu.Lock()
	sample, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no tracked sample with id %q", id)
	}
	delete(m.pending, id)

	sample.EndTime = now
	sample.Duration = now.Sub(sample.StartTime)
	if sample.Duration < 0 {
		sample.Duration = 0
	}
	sample.Completed = true
	sample.CacheHit = out.CacheHit
	sample.DedupSaved = out.DedupSaved
	sample.ResultCount = out.ResultCount
	sample.ErrorKind = out.ErrorKind
	sample.RetryCount = out.RetryCount
	sample.AuthDelay = out.AuthDelay
	sample.NetworkTime = out.NetworkTime
	sample.ProcessingTime = out.ProcessingTime
	sample.CircuitState = out.CircuitState

	m.ring.Add(sample)
	thresholds := m.thresholds
	m.mu.Unlock()

	m.logger.LogQueryEvent(context.Background(), sample.Resource, sample.Duration, sample.CacheHit, string(sample.ErrorKind))
	m.notifySample(sample)

	for _, alert := range m.evaluate(sample, thresholds, now) {
		m.notifyAlert(alert)
	}
	return nil
}

// GetAggregatedMetrics reduces the samples of the trailing window
func (m *Monitor) GetAggregatedMetrics(window time.Duration) *metrics.AggregatedMetrics {
	now := m.cfg.Clock()
	since := now.Add(-window)

	samples, thresholds := m.snapshot(now)
	return metrics.Aggregate(samples, since, thresholds.MaxQueryTime)
}

// Health computes the composite health score over the trailing window
func (m *Monitor) Health(window time.Duration) *metrics.HealthReport {
	return metrics.ComputeHealthScore(m.GetAggregatedMetrics(window))
}

// Trend detects the latency trend over the trailing window
func (m *Monitor) Trend(window time.Duration) metrics.Trend {
	now := m.cfg.Clock()
	samples, _ := m.snapshot(now)

	since := now.Add(-window)
	windowed := make([]metrics.Sample, 0, len(samples))
	for _, s := range samples {
		if !s.StartTime.Before(since) {
			windowed = append(windowed, s)
		}
	}
	return metrics.DetectTrend(windowed)
}

// Samples returns a chronological copy of the retained ring
func (m *Monitor) Samples() []metrics.Sample {
	samples, _ := m.snapshot(m.cfg.Clock())
	return samples
}

// OnAlert subscribes to threshold alerts. The returned function removes the
// subscription and is idempotent; it is safe to call from within a callback.
func (m *Monitor) OnAlert(cb func(alerting.Alert)) func() {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.alertSubs[id] = cb
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.alertSubs, id)
		m.subMu.Unlock()
	}
}

// OnSample subscribes to completed samples (telemetry bridges). The returned
// function removes the subscription and is idempotent.
func (m *Monitor) OnSample(cb func(metrics.Sample)) func() {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.sampleSubs[id] = cb
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.sampleSubs, id)
		m.subMu.Unlock()
	}
}

// UpdateThresholds hot-swaps the live thresholds without restart
func (m *Monitor) UpdateThresholds(patch ThresholdPatch) Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()

	if patch.MaxQueryTime != nil {
		m.thresholds.MaxQueryTime = *patch.MaxQueryTime
	}
	if patch.MinCacheHitRate != nil {
		m.thresholds.MinCacheHitRate = *patch.MinCacheHitRate
	}
	if patch.MaxErrorRate != nil {
		m.thresholds.MaxErrorRate = *patch.MaxErrorRate
	}
	if patch.MaxAuthDelay != nil {
		m.thresholds.MaxAuthDelay = *patch.MaxAuthDelay
	}
	if patch.DegradationThreshold != nil {
		m.thresholds.DegradationThreshold = *patch.DegradationThreshold
	}
	return m.thresholds
}

// Thresholds returns the active live thresholds
func (m *Monitor) Thresholds() Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds
}

// Clear drops all pending and retained samples (test and ops utility)
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]metrics.Sample)
	m.ring.Clear()
	m.windowAlertAt = make(map[string]time.Time)
}

func (m *Monitor) snapshot(now time.Time) ([]metrics.Sample, Thresholds) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ring.Snapshot(now.Add(-m.cfg.MaxSampleAge)), m.thresholds
}

// prunePendingLocked drops abandoned start events whose end never arrived
func (m *Monitor) prunePendingLocked(now time.Time) {
	if len(m.pending) <= m.cfg.MaxSamples {
		return
	}
	cutoff := now.Add(-m.cfg.MaxSampleAge)
	for id, s := range m.pending {
		if s.StartTime.Before(cutoff) {
			delete(m.pending, id)
		}
	}
}

// evaluate checks per-sample and rolling-window thresholds and returns any
// alerts to emit. Window alerts are deduplicated per reason for one
// evaluation window.
func (m *Monitor) evaluate(sample metrics.Sample, t Thresholds, now time.Time) []alerting.Alert {
	var alerts []alerting.Alert

	if t.MaxQueryTime > 0 && sample.Duration > t.MaxQueryTime {
		alerts = append(alerts, alerting.Alert{
			Kind:     alerting.KindSlowExecution,
			Severity: alerting.SeverityWarning,
			Resource: sample.Resource,
			Message:  fmt.Sprintf("query on %q took %s (limit %s)", sample.Resource, sample.Duration.Round(time.Millisecond), t.MaxQueryTime),
			Data: map[string]interface{}{
				"reason":      "slow_query",
				"sample_id":   sample.ID,
				"duration_ms": sample.Duration.Milliseconds(),
				"cache_hit":   sample.CacheHit,
			},
			Timestamp: now,
		})
	}

	if t.MaxAuthDelay > 0 && sample.AuthDelay > t.MaxAuthDelay {
		alerts = append(alerts, alerting.Alert{
			Kind:     alerting.KindSlowExecution,
			Severity: alerting.SeverityWarning,
			Resource: sample.Resource,
			Message:  fmt.Sprintf("auth delay of %s on %q exceeded limit %s", sample.AuthDelay.Round(time.Millisecond), sample.Resource, t.MaxAuthDelay),
			Data: map[string]interface{}{
				"reason":        "auth_delay",
				"sample_id":     sample.ID,
				"auth_delay_ms": sample.AuthDelay.Milliseconds(),
			},
			Timestamp: now,
		})
	}

	alerts = append(alerts, m.evaluateWindow(t, now)...)
	return alerts
}

func (m *Monitor) evaluateWindow(t Thresholds, now time.Time) []alerting.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.ring.Snapshot(now.Add(-m.cfg.EvaluationWindow))
	if len(window) < m.cfg.MinWindowSamples {
		return nil
	}

	agg := metrics.Aggregate(window, time.Time{}, t.MaxQueryTime)
	var alerts []alerting.Alert

	if t.MaxErrorRate > 0 && agg.ErrorRate > t.MaxErrorRate && m.windowAlertAllowedLocked("error_rate", now) {
		alerts = append(alerts, alerting.Alert{
			Kind:     alerting.KindLowReliability,
			Severity: alerting.SeverityWarning,
			Message:  fmt.Sprintf("error rate %.1f%% over the last %s exceeds %.1f%%", agg.ErrorRate, m.cfg.EvaluationWindow, t.MaxErrorRate),
			Data: map[string]interface{}{
				"reason":     "error_rate",
				"error_rate": agg.ErrorRate,
				"samples":    agg.TotalSamples,
			},
			Timestamp: now,
		})
	}

	if t.MinCacheHitRate > 0 && agg.CacheHitRate < t.MinCacheHitRate && m.windowAlertAllowedLocked("cache_hit_rate", now) {
		alerts = append(alerts, alerting.Alert{
			Kind:     alerting.KindSlowExecution,
			Severity: alerting.SeverityWarning,
			Message:  fmt.Sprintf("cache hit rate %.1f%% over the last %s is below %.1f%%", agg.CacheHitRate, m.cfg.EvaluationWindow, t.MinCacheHitRate),
			Data: map[string]interface{}{
				"reason":         "cache_hit_rate",
				"cache_hit_rate": agg.CacheHitRate,
				"samples":        agg.TotalSamples,
			},
			Timestamp: now,
		})
	}

	if t.DegradationThreshold > 0 && m.windowAlertAllowedLocked("degradation", now) {
		baseline := metrics.Aggregate(m.ring.Snapshot(time.Time{}), time.Time{}, t.MaxQueryTime)
		if baseline.AverageDuration > 0 && agg.AverageDuration > baseline.AverageDuration {
			slowdown := float64(agg.AverageDuration-baseline.AverageDuration) / float64(baseline.AverageDuration) * 100
			if slowdown > t.DegradationThreshold {
				alerts = append(alerts, alerting.Alert{
					Kind:     alerting.KindSlowExecution,
					Severity: alerting.SeverityHigh,
					Message:  fmt.Sprintf("average duration degraded %.0f%% against the retained baseline", slowdown),
					Data: map[string]interface{}{
						"reason":          "window_degradation",
						"window_avg_ms":   agg.AverageDuration.Milliseconds(),
						"baseline_avg_ms": baseline.AverageDuration.Milliseconds(),
						"slowdown_pct":    slowdown,
					},
					Timestamp: now,
				})
			} else {
				m.windowAlertResetLocked("degradation")
			}
		} else {
			m.windowAlertResetLocked("degradation")
		}
	}

	return alerts
}

// windowAlertAllowedLocked suppresses a window alert reason for one
// evaluation window after it fires. Caller holds m.mu.
func (m *Monitor) windowAlertAllowedLocked(reason string, now time.Time) bool {
	if last, ok := m.windowAlertAt[reason]; ok && now.Sub(last) < m.cfg.EvaluationWindow {
		return false
	}
	m.windowAlertAt[reason] = now
	return true
}

func (m *Monitor) windowAlertResetLocked(reason string) {
	delete(m.windowAlertAt, reason)
}

func (m *Monitor) notifyAlert(alert alerting.Alert) {
	m.subMu.Lock()
	subs := make([]func(alerting.Alert), 0, len(m.alertSubs))
	for _, cb := range m.alertSubs {
		subs = append(subs, cb)
	}
	m.subMu.Unlock()

	for _, cb := range subs {
		cb(alert)
	}
}

func (m *Monitor) notifySample(sample metrics.Sample) {
	m.subMu.Lock()
	subs := make([]func(metrics.Sample), 0, len(m.sampleSubs))
	for _, cb := range m.sampleSubs {
		subs = append(subs, cb)
	}
	m.subMu.Unlock()

	for _, cb := range subs {
		cb(sample)
	}
}
