package metrics

import (
	"math"
	"time"
)

// ChangeSignificance buckets a percent change between two windows.
type ChangeSignificance string

const (
	ChangeSignificant ChangeSignificance = "significant"
	ChangeMinor       ChangeSignificance = "minor"
	ChangeNegligible  ChangeSignificance = "negligible"
)

// MetricChange is the delta of one metric between two windows.
type MetricChange struct {
	Metric        string             `json:"metric"`
	Before        float64            `json:"before"`
	After         float64            `json:"after"`
	ChangePercent float64            `json:"change_percent"`
	Significance  ChangeSignificance `json:"significance"`
	Regression    bool               `json:"regression"`
}

// WindowComparison is a before/after regression check between two windows.
type WindowComparison struct {
	Changes   []MetricChange `json:"changes"`
	Regressed bool           `json:"regressed"`
}

// CompareWindows computes percent change per metric between two aggregated
// windows. A change of at least 10% is significant, at least 5% minor,
// anything else negligible. Regressed is set when any significant change
// moves in the bad direction.
func CompareWindows(before, after *AggregatedMetrics) *WindowComparison {
	cmp := &WindowComparison{}

	changes := []struct {
		metric  string
		before  float64
		after   float64
		badUp   bool // true when an increase is a regression
	}{
		{"average_duration_ms", durationMs(before.AverageDuration), durationMs(after.AverageDuration), true},
		{"p95_ms", durationMs(before.Percentiles.P95), durationMs(after.Percentiles.P95), true},
		{"error_rate", before.ErrorRate, after.ErrorRate, true},
		{"cache_hit_rate", before.CacheHitRate, after.CacheHitRate, false},
		{"dedup_savings_rate", before.DedupSavingsRate, after.DedupSavingsRate, false},
	}

	for _, c := range changes {
		change := MetricChange{
			Metric:        c.metric,
			Before:        c.before,
			After:         c.after,
			ChangePercent: percentChange(c.before, c.after),
		}
		change.Significance = classifyChange(change.ChangePercent)

		worse := (c.badUp && change.ChangePercent > 0) || (!c.badUp && change.ChangePercent < 0)
		change.Regression = worse && change.Significance == ChangeSignificant
		if change.Regression {
			cmp.Regressed = true
		}

		cmp.Changes = append(cmp.Changes, change)
	}

	return cmp
}

func classifyChange(changePercent float64) ChangeSignificance {
	abs := math.Abs(changePercent)
	switch {
	case abs >= 10:
		return ChangeSignificant
	case abs >= 5:
		return ChangeMinor
	default:
		return ChangeNegligible
	}
}

func percentChange(before, after float64) float64 {
	if before == 0 {
		if after == 0 {
			return 0
		}
		return 100
	}
	return (after - before) / before * 100
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
