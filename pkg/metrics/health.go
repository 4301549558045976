package metrics

import (
	"fmt"
	"sort"
	"time"
)

// Component score weights. Latency and cache carry the most operational
// weight; breaker stability and dedup round out the score.
const (
	weightLatency   = 0.35
	weightCache     = 0.30
	weightStability = 0.20
	weightDedup     = 0.15

	// healthyFloor is the component score below which an issue is reported
	healthyFloor = 70.0

	// latencyTarget is the average duration that scores 100
	latencyTarget = 200 * time.Millisecond
	// latencyCeiling is the average duration that scores 0
	latencyCeiling = 2 * time.Second
)

// HealthReport is the weighted composite health of the query layer.
type HealthReport struct {
	Score           float64            `json:"score"`
	Components      map[string]float64 `json:"components"`
	Issues          []string           `json:"issues"`
	Recommendations []string           `json:"recommendations"`
}

// ComputeHealthScore reduces an aggregated window into a 0-100 composite.
// Each component is clamped to [0,100]; components under the healthy floor
// contribute an issue and a recommendation, worst deficit first.
func ComputeHealthScore(m *AggregatedMetrics) *HealthReport {
	report := &HealthReport{
		Components: make(map[string]float64),
	}

	if m == nil || m.TotalSamples == 0 {
		// No traffic is treated as healthy, not unknown
		report.Score = 100
		for _, name := range []string{"cache", "latency", "stability", "dedup"} {
			report.Components[name] = 100
		}
		return report
	}

	cacheScore := clamp(m.CacheHitRate, 0, 100)
	latencyScore := latencyComponent(m.AverageDuration)
	stabilityScore := stabilityComponent(m)
	dedupScore := clamp(70+m.DedupSavingsRate, 0, 100)

	report.Components["cache"] = cacheScore
	report.Components["latency"] = latencyScore
	report.Components["stability"] = stabilityScore
	report.Components["dedup"] = dedupScore

	report.Score = clamp(
		cacheScore*weightCache+
			latencyScore*weightLatency+
			stabilityScore*weightStability+
			dedupScore*weightDedup,
		0, 100,
	)

	type deficit struct {
		name           string
		score          float64
		issue          string
		recommendation string
	}

	var deficits []deficit
	if cacheScore < healthyFloor {
		deficits = append(deficits, deficit{
			name:           "cache",
			score:          cacheScore,
			issue:          fmt.Sprintf("cache hit rate %.1f%% is below the healthy floor", m.CacheHitRate),
			recommendation: "widen cache key coverage or raise TTLs for hot resources",
		})
	}
	if latencyScore < healthyFloor {
		deficits = append(deficits, deficit{
			name:           "latency",
			score:          latencyScore,
			issue:          fmt.Sprintf("average query duration %s exceeds the healthy range", m.AverageDuration),
			recommendation: "profile slow resources and narrow selected columns or add indexes",
		})
	}
	if stabilityScore < healthyFloor {
		deficits = append(deficits, deficit{
			name:           "stability",
			score:          stabilityScore,
			issue:          fmt.Sprintf("%d executions were short-circuited by an open breaker", m.CircuitBreakerActivations),
			recommendation: "investigate availability of the remote data service",
		})
	}
	if dedupScore < healthyFloor {
		deficits = append(deficits, deficit{
			name:           "dedup",
			score:          dedupScore,
			issue:          "request deduplication is saving almost nothing",
			recommendation: "route identical concurrent reads through the dedup layer",
		})
	}

	// Worst component first
	sort.Slice(deficits, func(i, j int) bool { return deficits[i].score < deficits[j].score })
	for _, d := range deficits {
		report.Issues = append(report.Issues, d.issue)
		report.Recommendations = append(report.Recommendations, d.recommendation)
	}

	return report
}

func latencyComponent(avg time.Duration) float64 {
	if avg <= latencyTarget {
		return 100
	}
	if avg >= latencyCeiling {
		return 0
	}
	span := float64(latencyCeiling - latencyTarget)
	return clamp(100*(1-float64(avg-latencyTarget)/span), 0, 100)
}

func stabilityComponent(m *AggregatedMetrics) float64 {
	if m.TotalSamples == 0 {
		return 100
	}
	activationRate := float64(m.CircuitBreakerActivations) / float64(m.TotalSamples) * 100
	return clamp(100-5*activationRate, 0, 100)
}
