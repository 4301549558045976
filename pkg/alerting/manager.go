package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/queryguard/queryguard/pkg/breaker"
	"github.com/queryguard/queryguard/pkg/logging"
)

// Environment selects the threshold profile. Development tolerates more
// flapping than production.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Thresholds are the environment-scoped pattern detection limits.
type Thresholds struct {
	// FrequentOpeningThreshold is the number of opens within
	// FrequentOpeningWindow that raises FREQUENT_OPENING
	FrequentOpeningThreshold int           `json:"frequent_opening_threshold"`
	FrequentOpeningWindow    time.Duration `json:"frequent_opening_window"`
	// LongOpenDurationThreshold is how long a breaker may stay open before
	// LONG_OPEN_DURATION is raised
	LongOpenDurationThreshold time.Duration `json:"long_open_duration_threshold"`
	// LowReliabilityThreshold is the minimum healthy success percentage
	LowReliabilityThreshold float64       `json:"low_reliability_threshold"`
	ReliabilityWindow       time.Duration `json:"reliability_window"`
	// MinExecutions gates reliability evaluation until enough traffic exists
	MinExecutions int `json:"min_executions"`
}

// ThresholdsFor returns the default thresholds for an environment
func ThresholdsFor(env Environment) Thresholds {
	if env == EnvProduction {
		return Thresholds{
			FrequentOpeningThreshold:  3,
			FrequentOpeningWindow:     5 * time.Minute,
			LongOpenDurationThreshold: 2 * time.Minute,
			LowReliabilityThreshold:   90,
			ReliabilityWindow:         5 * time.Minute,
			MinExecutions:             20,
		}
	}
	return Thresholds{
		FrequentOpeningThreshold:  5,
		FrequentOpeningWindow:     10 * time.Minute,
		LongOpenDurationThreshold: 5 * time.Minute,
		LowReliabilityThreshold:   75,
		ReliabilityWindow:         10 * time.Minute,
		MinExecutions:             50,
	}
}

// Config holds alert manager configuration
type Config struct {
	Environment Environment
	// Thresholds overrides the environment profile when non-nil
	Thresholds *Thresholds
	// CheckInterval is the cadence of the stuck-open background check
	CheckInterval time.Duration
	// HistorySize caps the in-memory alert ring
	HistorySize int
	// SinkTimeout bounds each sink delivery
	SinkTimeout time.Duration
	// Clock overrides time.Now, used by tests
	Clock  func() time.Time
	Logger *logging.Logger
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = logging.GetLogger()
	}
}

type outcome struct {
	at time.Time
	ok bool
}

// Manager detects pathological breaker and query patterns and forwards
// alerts to its sinks. Sink failures are logged and never propagate to the
// code path that produced the event.
type Manager struct {
	cfg        Config
	thresholds Thresholds
	logger     *logging.Logger
	sinks      []Sink

	mu              sync.Mutex
	history         []Alert
	opens           map[string][]time.Time
	outcomes        map[string][]outcome
	openSince       map[string]time.Time
	longOpenAlerted map[string]bool
	lastRaisedAt    map[string]time.Time

	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewManager creates an alert manager with the given sinks
func NewManager(cfg Config, sinks ...Sink) *Manager {
	cfg.applyDefaults()

	thresholds := ThresholdsFor(cfg.Environment)
	if cfg.Thresholds != nil {
		thresholds = *cfg.Thresholds
	}

	return &Manager{
		cfg:             cfg,
		thresholds:      thresholds,
		logger:          cfg.Logger,
		sinks:           sinks,
		opens:           make(map[string][]time.Time),
		outcomes:        make(map[string][]outcome),
		openSince:       make(map[string]time.Time),
		longOpenAlerted: make(map[string]bool),
		lastRaisedAt:    make(map[string]time.Time),
	}
}

// Thresholds returns the active threshold profile
func (m *Manager) Thresholds() Thresholds {
	return m.thresholds
}

// HandleBreakerEvent consumes the circuit breaker event stream. It satisfies
// breaker.Listener.
func (m *Manager) HandleBreakerEvent(ev breaker.Event) {
	switch ev.Type {
	case breaker.EventStateChange:
		m.handleStateChange(ev)
	case breaker.EventSuccess:
		m.recordOutcome(ev.Resource, ev.At, true)
	case breaker.EventFailure:
		m.recordOutcome(ev.Resource, ev.At, false)
	}
}

func (m *Manager) handleStateChange(ev breaker.Event) {
	m.mu.Lock()

	if ev.To == breaker.StateOpen {
		m.openSince[ev.Resource] = ev.At
		m.longOpenAlerted[ev.Resource] = false

		cutoff := ev.At.Add(-m.thresholds.FrequentOpeningWindow)
		opens := append(pruneTimes(m.opens[ev.Resource], cutoff), ev.At)
		m.opens[ev.Resource] = opens

		if len(opens) >= m.thresholds.FrequentOpeningThreshold && m.shouldRaiseLocked(ev.Resource, KindFrequentOpening, ev.At, m.thresholds.FrequentOpeningWindow) {
			m.mu.Unlock()
			m.raise(Alert{
				Kind:     KindFrequentOpening,
				Severity: SeverityHigh,
				Resource: ev.Resource,
				Message:  fmt.Sprintf("circuit breaker for %q opened %d times within %s", ev.Resource, len(opens), m.thresholds.FrequentOpeningWindow),
				Data: map[string]interface{}{
					"open_count": len(opens),
					"window":     m.thresholds.FrequentOpeningWindow.String(),
				},
				Timestamp: ev.At,
			})
			return
		}
	} else {
		delete(m.openSince, ev.Resource)
		delete(m.longOpenAlerted, ev.Resource)
	}

	m.mu.Unlock()
}

func (m *Manager) recordOutcome(resource string, at time.Time, ok bool) {
	m.mu.Lock()

	cutoff := at.Add(-m.thresholds.ReliabilityWindow)
	outcomes := append(pruneOutcomes(m.outcomes[resource], cutoff), outcome{at: at, ok: ok})
	m.outcomes[resource] = outcomes

	if len(outcomes) < m.thresholds.MinExecutions {
		m.mu.Unlock()
		return
	}

	successes := 0
	for _, o := range outcomes {
		if o.ok {
			successes++
		}
	}
	rate := float64(successes) / float64(len(outcomes)) * 100

	if rate < m.thresholds.LowReliabilityThreshold && m.shouldRaiseLocked(resource, KindLowReliability, at, m.thresholds.ReliabilityWindow) {
		m.mu.Unlock()
		m.raise(Alert{
			Kind:     KindLowReliability,
			Severity: SeverityHigh,
			Resource: resource,
			Message:  fmt.Sprintf("reliability for %q dropped to %.1f%% (floor %.1f%%)", resource, rate, m.thresholds.LowReliabilityThreshold),
			Data: map[string]interface{}{
				"success_rate": rate,
				"executions":   len(outcomes),
				"window":       m.thresholds.ReliabilityWindow.String(),
			},
			Timestamp: at,
		})
		return
	}

	m.mu.Unlock()
}

// HandleMonitorAlert records and forwards an alert produced by the query
// performance monitor.
func (m *Manager) HandleMonitorAlert(alert Alert) {
	m.raise(alert)
}

// Start launches the stuck-open background check. The check is owned by the
// manager's lifecycle and must be stopped on shutdown.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})

	go m.checkLoop(ctx, m.stopChan)
	m.logger.Info("Alert manager started",
		"environment", string(m.cfg.Environment),
		"check_interval", m.cfg.CheckInterval.String(),
	)
}

// Stop cancels the background check; it is safe to call more than once
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return
	}
	close(m.stopChan)
	m.running = false
	m.logger.Info("Alert manager stopped")
}

func (m *Manager) checkLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.CheckStuckOpen(m.cfg.Clock())
		}
	}
}

// CheckStuckOpen raises LONG_OPEN_DURATION for any breaker that has been
// open longer than the threshold. Called by the background loop; exported so
// operators can force an immediate check.
func (m *Manager) CheckStuckOpen(now time.Time) {
	m.mu.Lock()

	var stuck []Alert
	for resource, since := range m.openSince {
		if m.longOpenAlerted[resource] {
			continue
		}
		openFor := now.Sub(since)
		if openFor >= m.thresholds.LongOpenDurationThreshold {
			m.longOpenAlerted[resource] = true
			stuck = append(stuck, Alert{
				Kind:     KindLongOpenDuration,
				Severity: SeverityCritical,
				Resource: resource,
				Message:  fmt.Sprintf("circuit breaker for %q has been open for %s", resource, openFor.Round(time.Second)),
				Data: map[string]interface{}{
					"open_for":  openFor.String(),
					"opened_at": since,
				},
				Timestamp: now,
			})
		}
	}
	m.mu.Unlock()

	for _, alert := range stuck {
		m.raise(alert)
	}
}

// History returns a copy of the alert ring, oldest first
func (m *Manager) History() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := make([]Alert, len(m.history))
	copy(history, m.history)
	return history
}

// Recent returns up to n of the newest alerts, newest first
func (m *Manager) Recent(n int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > len(m.history) {
		n = len(m.history)
	}
	recent := make([]Alert, 0, n)
	for i := len(m.history) - 1; i >= len(m.history)-n; i-- {
		recent = append(recent, m.history[i])
	}
	return recent
}

// raise completes the alert, appends it to the bounded history, and forwards
// it to every sink without blocking the caller.
func (m *Manager) raise(alert Alert) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = m.cfg.Clock()
	}

	m.mu.Lock()
	m.history = append(m.history, alert)
	if len(m.history) > m.cfg.HistorySize {
		// Drop the oldest entries past capacity
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
	m.mu.Unlock()

	go m.forward(alert)
}

func (m *Manager) forward(alert Alert) {
	for _, sink := range m.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SinkTimeout)
		if err := sink.Deliver(ctx, alert); err != nil {
			m.logger.Error("Alert sink delivery failed",
				"sink", sink.Name(),
				"alert_id", alert.ID,
				"kind", string(alert.Kind),
				"error", err,
			)
		}
		cancel()
	}
}

// shouldRaiseLocked suppresses repeat alerts of the same kind for the same
// resource inside the dedup window. Caller holds m.mu.
func (m *Manager) shouldRaiseLocked(resource string, kind Kind, now time.Time, window time.Duration) bool {
	key := resource + "/" + string(kind)
	if last, ok := m.lastRaisedAt[key]; ok && now.Sub(last) < window {
		return false
	}
	m.lastRaisedAt[key] = now
	return true
}

func pruneTimes(times []time.Time, cutoff time.Time) []time.Time {
	pruned := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	return pruned
}

func pruneOutcomes(outcomes []outcome, cutoff time.Time) []outcome {
	pruned := outcomes[:0]
	for _, o := range outcomes {
		if o.at.After(cutoff) {
			pruned = append(pruned, o)
		}
	}
	return pruned
}
