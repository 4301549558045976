package metrics

import (
	"time"

	"github.com/queryguard/queryguard/pkg/breaker"
	"github.com/queryguard/queryguard/pkg/errors"
)

// Priority indicates how a tracked query was scheduled by the caller.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Sample is one tracked query execution. It is created on start tracking,
// completed on end tracking, and immutable once completed.
type Sample struct {
	ID             string           `json:"id"`
	Resource       string           `json:"resource"`
	Priority       Priority         `json:"priority"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        time.Time        `json:"end_time,omitempty"`
	Duration       time.Duration    `json:"duration,omitempty"`
	Completed      bool             `json:"completed"`
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

// Failed reports whether the sample completed with an error
func (s Sample) Failed() bool {
	return s.ErrorKind != ""
}

// Percentiles holds tail latency values for a sample window.
type Percentiles struct {
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// ResourceMetrics is the per-resource breakdown within a window.
type ResourceMetrics struct {
	Resource        string        `json:"resource"`
	TotalSamples    int           `json:"total_samples"`
	AverageDuration time.Duration `json:"average_duration"`
	ErrorRate       float64       `json:"error_rate"`
	CacheHitRate    float64       `json:"cache_hit_rate"`
}

// AggregatedMetrics is the reduction of a sample window. It is derived on
// every query and never persisted, so staleness is impossible.
type AggregatedMetrics struct {
	WindowStart               time.Time                  `json:"window_start"`
	WindowEnd                 time.Time                  `json:"window_end"`
	TotalSamples              int                        `json:"total_samples"`
	AverageDuration           time.Duration              `json:"average_duration"`
	ErrorRate                 float64                    `json:"error_rate"`
	CacheHitRate              float64                    `json:"cache_hit_rate"`
	DedupSavingsRate          float64                    `json:"dedup_savings_rate"`
	CircuitBreakerActivations int                        `json:"circuit_breaker_activations"`
	SlowSampleCount           int                        `json:"slow_sample_count"`
	Percentiles               Percentiles                `json:"percentiles"`
	PerResource               map[string]ResourceMetrics `json:"per_resource"`
}
