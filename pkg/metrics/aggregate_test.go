package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryguard/queryguard/pkg/breaker"
	"github.com/queryguard/queryguard/pkg/errors"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func completedSample(offset time.Duration, duration time.Duration, mutate ...func(*Sample)) Sample {
	s := Sample{
		ID:        "s",
		Resource:  "patients",
		Priority:  PriorityNormal,
		StartTime: testBase.Add(offset),
		EndTime:   testBase.Add(offset + duration),
		Duration:  duration,
		Completed: true,
	}
	for _, m := range mutate {
		m(&s)
	}
	return s
}

func TestPercentile_CeilingRule(t *testing.T) {
	durations := make([]time.Duration, 0, 10)
	for ms := 100; ms <= 1000; ms += 100 {
		durations = append(durations, time.Duration(ms)*time.Millisecond)
	}

	// ceil(50/100*10)-1 = 4, so p50 is the 5th value, not an interpolation
	assert.Equal(t, 500*time.Millisecond, Percentile(durations, 50))
	assert.Equal(t, 900*time.Millisecond, Percentile(durations, 90))
	assert.Equal(t, 1000*time.Millisecond, Percentile(durations, 95))
	assert.Equal(t, 1000*time.Millisecond, Percentile(durations, 99))
}

func TestPercentile_SmallInputs(t *testing.T) {
	assert.Equal(t, time.Duration(0), Percentile(nil, 95))
	assert.Equal(t, 42*time.Millisecond, Percentile([]time.Duration{42 * time.Millisecond}, 50))
	assert.Equal(t, 42*time.Millisecond, Percentile([]time.Duration{42 * time.Millisecond}, 99))
}

func TestPercentile_DoesNotMutateInput(t *testing.T) {
	durations := []time.Duration{300, 100, 200}
	Percentile(durations, 50)
	assert.Equal(t, []time.Duration{300, 100, 200}, durations)
}

func TestAggregate_Rates(t *testing.T) {
	samples := []Sample{
		completedSample(0, 100*time.Millisecond, func(s *Sample) { s.CacheHit = true }),
		completedSample(time.Second, 200*time.Millisecond, func(s *Sample) { s.CacheHit = true; s.DedupSaved = true }),
		completedSample(2*time.Second, 300*time.Millisecond, func(s *Sample) { s.ErrorKind = errors.KindNetwork }),
		completedSample(3*time.Second, 400*time.Millisecond, func(s *Sample) { s.CircuitState = breaker.StateOpen }),
	}

	m := Aggregate(samples, time.Time{}, 250*time.Millisecond)

	assert.Equal(t, 4, m.TotalSamples)
	assert.Equal(t, 250*time.Millisecond, m.AverageDuration)
	assert.Equal(t, 25.0, m.ErrorRate)
	assert.Equal(t, 50.0, m.CacheHitRate)
	assert.Equal(t, 25.0, m.DedupSavingsRate)
	assert.Equal(t, 1, m.CircuitBreakerActivations)
	assert.Equal(t, 2, m.SlowSampleCount)
}

func TestAggregate_WindowFiltering(t *testing.T) {
	samples := []Sample{
		completedSample(0, 100*time.Millisecond),
		completedSample(10*time.Minute, 200*time.Millisecond),
	}

	m := Aggregate(samples, testBase.Add(5*time.Minute), 0)
	assert.Equal(t, 1, m.TotalSamples)
	assert.Equal(t, 200*time.Millisecond, m.AverageDuration)
}

func TestAggregate_SkipsIncomplete(t *testing.T) {
	samples := []Sample{
		{ID: "pending", Resource: "patients", StartTime: testBase},
		completedSample(0, 100*time.Millisecond),
	}

	m := Aggregate(samples, time.Time{}, 0)
	assert.Equal(t, 1, m.TotalSamples)
}

func TestAggregate_Empty(t *testing.T) {
	m := Aggregate(nil, time.Time{}, 0)

	assert.Equal(t, 0, m.TotalSamples)
	assert.Equal(t, time.Duration(0), m.AverageDuration)
	assert.Equal(t, time.Duration(0), m.Percentiles.P99)
	assert.Empty(t, m.PerResource)
}

func TestAggregate_PerResourceBreakdown(t *testing.T) {
	samples := []Sample{
		completedSample(0, 100*time.Millisecond),
		completedSample(time.Second, 300*time.Millisecond, func(s *Sample) {
			s.Resource = "appointments"
			s.ErrorKind = errors.KindTimeout
		}),
	}

	m := Aggregate(samples, time.Time{}, 0)
	require.Len(t, m.PerResource, 2)

	patients := m.PerResource["patients"]
	assert.Equal(t, 1, patients.TotalSamples)
	assert.Equal(t, 0.0, patients.ErrorRate)

	appointments := m.PerResource["appointments"]
	assert.Equal(t, 100.0, appointments.ErrorRate)
	assert.Equal(t, 300*time.Millisecond, appointments.AverageDuration)
}

func TestCacheEffectiveness_ZeroWithoutHits(t *testing.T) {
	samples := []Sample{
		completedSample(0, 100*time.Millisecond),
		completedSample(time.Second, 200*time.Millisecond),
	}
	assert.Equal(t, 0.0, CacheEffectiveness(samples))
}

func TestCacheEffectiveness_MonotonicInHitRate(t *testing.T) {
	// Hold durations constant so the improvement term stays fixed
	build := func(hits, misses int) []Sample {
		var samples []Sample
		for i := 0; i < hits; i++ {
			samples = append(samples, completedSample(time.Duration(i)*time.Second, 50*time.Millisecond, func(s *Sample) { s.CacheHit = true }))
		}
		for i := 0; i < misses; i++ {
			samples = append(samples, completedSample(time.Duration(hits+i)*time.Second, 200*time.Millisecond))
		}
		return samples
	}

	prev := -1.0
	for hits := 1; hits <= 9; hits++ {
		score := CacheEffectiveness(build(hits, 10-hits))
		assert.Greater(t, score, prev, "score must grow with hit rate (hits=%d)", hits)
		prev = score
	}
}

func TestCacheEffectiveness_ImprovementTerm(t *testing.T) {
	// 1 hit at 50ms, 1 miss at 200ms: hit rate 50%, improvement 75%
	samples := []Sample{
		completedSample(0, 50*time.Millisecond, func(s *Sample) { s.CacheHit = true }),
		completedSample(time.Second, 200*time.Millisecond),
	}

	score := CacheEffectiveness(samples)
	assert.InDelta(t, 0.6*50+0.4*75, score, 0.01)
}
