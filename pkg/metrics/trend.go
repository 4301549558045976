package metrics

import (
	"sort"
)

// TrendDirection describes where window latency is heading.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDegrading TrendDirection = "degrading"
)

// minTrendSamples is the minimum window size before a trend call is made.
const minTrendSamples = 10

// Trend is the result of comparing the oldest third of a window against the
// newest third.
type Trend struct {
	Direction  TrendDirection `json:"direction"`
	ChangeRate float64        `json:"change_rate"`
	Confidence float64        `json:"confidence"`
}

// DetectTrend splits the completed samples chronologically into thirds and
// compares mean duration of the first third against the last. A change rate
// above +15% is degrading, below -15% improving, anything between stable.
// Fewer than 10 samples yields stable with zero confidence.
func DetectTrend(samples []Sample) Trend {
	completed := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Completed {
			completed = append(completed, s)
		}
	}

	if len(completed) < minTrendSamples {
		return Trend{Direction: TrendStable, ChangeRate: 0, Confidence: 0}
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].StartTime.Before(completed[j].StartTime)
	})

	third := len(completed) / 3
	firstAvg := meanDuration(completed[:third])
	lastAvg := meanDuration(completed[len(completed)-third:])

	var changeRate float64
	if firstAvg > 0 {
		changeRate = float64(lastAvg-firstAvg) / float64(firstAvg) * 100
	}

	direction := TrendStable
	switch {
	case changeRate > 15:
		direction = TrendDegrading
	case changeRate < -15:
		direction = TrendImproving
	}

	confidence := float64(len(completed)) / 30
	if confidence > 1 {
		confidence = 1
	}

	return Trend{Direction: direction, ChangeRate: changeRate, Confidence: confidence}
}
