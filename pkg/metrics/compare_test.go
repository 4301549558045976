package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window(avg time.Duration, p95 time.Duration, errRate, hitRate, dedupRate float64) *AggregatedMetrics {
	return &AggregatedMetrics{
		TotalSamples:     50,
		AverageDuration:  avg,
		ErrorRate:        errRate,
		CacheHitRate:     hitRate,
		DedupSavingsRate: dedupRate,
		Percentiles:      Percentiles{P95: p95},
	}
}

func changeFor(t *testing.T, cmp *WindowComparison, metric string) MetricChange {
	t.Helper()
	for _, c := range cmp.Changes {
		if c.Metric == metric {
			return c
		}
	}
	t.Fatalf("no change entry for %q", metric)
	return MetricChange{}
}

func TestCompareWindows_SignificanceBands(t *testing.T) {
	before := window(100*time.Millisecond, 200*time.Millisecond, 10, 50, 10)
	after := window(112*time.Millisecond, 214*time.Millisecond, 10.6, 50, 10)

	cmp := CompareWindows(before, after)

	assert.Equal(t, ChangeSignificant, changeFor(t, cmp, "average_duration_ms").Significance)
	assert.Equal(t, ChangeMinor, changeFor(t, cmp, "p95_ms").Significance)
	assert.Equal(t, ChangeMinor, changeFor(t, cmp, "error_rate").Significance)
	assert.Equal(t, ChangeNegligible, changeFor(t, cmp, "cache_hit_rate").Significance)
}

func TestCompareWindows_RegressionDirections(t *testing.T) {
	before := window(100*time.Millisecond, 200*time.Millisecond, 5, 80, 20)
	// Latency up 50% is a regression; cache hit rate up 12.5% is not
	after := window(150*time.Millisecond, 200*time.Millisecond, 5, 90, 20)

	cmp := CompareWindows(before, after)

	assert.True(t, cmp.Regressed)
	assert.True(t, changeFor(t, cmp, "average_duration_ms").Regression)
	assert.False(t, changeFor(t, cmp, "cache_hit_rate").Regression)
}

func TestCompareWindows_CacheDropIsRegression(t *testing.T) {
	before := window(100*time.Millisecond, 200*time.Millisecond, 5, 80, 20)
	after := window(100*time.Millisecond, 200*time.Millisecond, 5, 60, 20)

	cmp := CompareWindows(before, after)

	change := changeFor(t, cmp, "cache_hit_rate")
	assert.Equal(t, ChangeSignificant, change.Significance)
	assert.True(t, change.Regression)
	assert.True(t, cmp.Regressed)
}

func TestCompareWindows_NoChange(t *testing.T) {
	before := window(100*time.Millisecond, 200*time.Millisecond, 5, 80, 20)
	after := window(100*time.Millisecond, 200*time.Millisecond, 5, 80, 20)

	cmp := CompareWindows(before, after)

	require.Len(t, cmp.Changes, 5)
	assert.False(t, cmp.Regressed)
	for _, c := range cmp.Changes {
		assert.Equal(t, ChangeNegligible, c.Significance, c.Metric)
		assert.Equal(t, 0.0, c.ChangePercent, c.Metric)
	}
}

func TestCompareWindows_ZeroBaseline(t *testing.T) {
	before := window(0, 0, 0, 0, 0)
	after := window(100*time.Millisecond, 200*time.Millisecond, 5, 80, 20)

	cmp := CompareWindows(before, after)

	change := changeFor(t, cmp, "error_rate")
	assert.Equal(t, 100.0, change.ChangePercent)
	assert.True(t, change.Regression)
}
