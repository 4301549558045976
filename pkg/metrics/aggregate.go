package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/queryguard/queryguard/pkg/breaker"
)

// Aggregate reduces the samples whose start time falls at or after since into
// a single AggregatedMetrics. Incomplete samples are skipped. All rates are
// percentages in [0, 100]. slowThreshold decides which samples count as slow.
func Aggregate(samples []Sample, since time.Time, slowThreshold time.Duration) *AggregatedMetrics {
	m := &AggregatedMetrics{
		WindowStart: since,
		PerResource: make(map[string]ResourceMetrics),
	}

	var (
		totalDuration time.Duration
		durations     []time.Duration
		failures      int
		cacheHits     int
		dedupSaved    int
		byResource    = make(map[string][]Sample)
	)

	for _, s := range samples {
		if !s.Completed || s.StartTime.Before(since) {
			continue
		}

		m.TotalSamples++
		totalDuration += s.Duration
		durations = append(durations, s.Duration)

		if s.EndTime.After(m.WindowEnd) {
			m.WindowEnd = s.EndTime
		}
		if s.Failed() {
			failures++
		}
		if s.CacheHit {
			cacheHits++
		}
		if s.DedupSaved {
			dedupSaved++
		}
		if s.CircuitState == breaker.StateOpen {
			m.CircuitBreakerActivations++
		}
		if slowThreshold > 0 && s.Duration > slowThreshold {
			m.SlowSampleCount++
		}

		byResource[s.Resource] = append(byResource[s.Resource], s)
	}

	if m.TotalSamples == 0 {
		return m
	}

	n := float64(m.TotalSamples)
	m.AverageDuration = totalDuration / time.Duration(m.TotalSamples)
	m.ErrorRate = float64(failures) / n * 100
	m.CacheHitRate = float64(cacheHits) / n * 100
	m.DedupSavingsRate = float64(dedupSaved) / n * 100
	m.Percentiles = ComputePercentiles(durations)

	for resource, group := range byResource {
		m.PerResource[resource] = reduceResource(resource, group)
	}

	return m
}

func reduceResource(resource string, samples []Sample) ResourceMetrics {
	rm := ResourceMetrics{
		Resource:     resource,
		TotalSamples: len(samples),
	}

	var total time.Duration
	var failures, hits int
	for _, s := range samples {
		total += s.Duration
		if s.Failed() {
			failures++
		}
		if s.CacheHit {
			hits++
		}
	}

	n := float64(len(samples))
	rm.AverageDuration = total / time.Duration(len(samples))
	rm.ErrorRate = float64(failures) / n * 100
	rm.CacheHitRate = float64(hits) / n * 100
	return rm
}

// Percentile returns the k-th percentile of the given durations using the
// index formula ceil(k/100*n)-1 clamped to [0, n-1]. No interpolation.
func Percentile(durations []time.Duration, k float64) time.Duration {
	n := len(durations)
	if n == 0 {
		return 0
	}

	sorted := make([]time.Duration, n)
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(k/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// ComputePercentiles returns the standard percentile set for a window
func ComputePercentiles(durations []time.Duration) Percentiles {
	return Percentiles{
		P50: Percentile(durations, 50),
		P90: Percentile(durations, 90),
		P95: Percentile(durations, 95),
		P99: Percentile(durations, 99),
	}
}

// CacheEffectiveness scores how much the cache is actually helping, weighting
// hit rate at 0.6 and the measured speedup of hits over misses at 0.4. The
// speedup term is 0 when either group is empty.
func CacheEffectiveness(samples []Sample) float64 {
	var hits, misses []Sample
	for _, s := range samples {
		if !s.Completed {
			continue
		}
		if s.CacheHit {
			hits = append(hits, s)
		} else {
			misses = append(misses, s)
		}
	}

	total := len(hits) + len(misses)
	if total == 0 {
		return 0
	}

	hitRate := float64(len(hits)) / float64(total) * 100

	var improvement float64
	if len(hits) > 0 && len(misses) > 0 {
		hitAvg := meanDuration(hits)
		missAvg := meanDuration(misses)
		if missAvg > 0 {
			improvement = float64(missAvg-hitAvg) / float64(missAvg) * 100
			improvement = clamp(improvement, 0, 100)
		}
	}

	return 0.6*hitRate + 0.4*improvement
}

func meanDuration(samples []Sample) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s.Duration
	}
	return total / time.Duration(len(samples))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
