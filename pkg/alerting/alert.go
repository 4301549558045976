package alerting

import (
	"time"
)

// Kind identifies the pathological pattern an alert reports.
type Kind string

const (
	// KindFrequentOpening - the breaker opened too many times in a window
	KindFrequentOpening Kind = "FREQUENT_OPENING"
	// KindLongOpenDuration - the breaker has been stuck open
	KindLongOpenDuration Kind = "LONG_OPEN_DURATION"
	// KindLowReliability - execution success rate fell below the floor
	KindLowReliability Kind = "LOW_RELIABILITY"
	// KindSlowExecution - a query or window breached latency thresholds
	KindSlowExecution Kind = "SLOW_EXECUTION"
)

// Severity represents the severity level of an alert
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText lets severity render as its name in JSON payloads
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name; unknown names map to info
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "warning":
		*s = SeverityWarning
	case "high":
		*s = SeverityHigh
	case "critical":
		*s = SeverityCritical
	default:
		*s = SeverityInfo
	}
	return nil
}

// Alert is one detected pattern. Alerts are immutable once created and are
// retained in a fixed-capacity history ring.
type Alert struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	Severity  Severity               `json:"severity"`
	Resource  string                 `json:"resource,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
