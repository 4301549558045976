package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryguard/queryguard/pkg/breaker"
	"github.com/queryguard/queryguard/pkg/errors"
	"github.com/queryguard/queryguard/pkg/metrics"
	"github.com/queryguard/queryguard/pkg/monitor"
)

type staticChecker struct {
	status Status
}

func (c *staticChecker) Check(ctx context.Context) *Check {
	return &Check{Name: "static", Status: c.status, Timestamp: time.Now()}
}

func TestService_CheckAllReducesStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy}, StatusUnhealthy},
		{"no checkers", nil, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(nil)
			for i, status := range tt.statuses {
				svc.RegisterChecker(string(rune('a'+i)), &staticChecker{status: status})
			}

			response := svc.CheckAll(context.Background())
			assert.Equal(t, tt.want, response.Status)
			assert.Len(t, response.Checks, len(tt.statuses))
		})
	}
}

func failBreaker(t *testing.T, cb *breaker.CircuitBreaker, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.NewNetworkError("patients", "connection refused")
		})
		require.Error(t, err)
	}
}

func TestBreakerChecker(t *testing.T) {
	registry := breaker.NewRegistry(breaker.Config{MaxFailures: 2})
	checker := NewBreakerChecker(registry)

	cb := registry.Get("patients")
	check := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "CLOSED", check.Metadata["patients"])

	failBreaker(t, cb, 2)

	check = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Contains(t, check.Message, "open")
	assert.Equal(t, "OPEN", check.Metadata["patients"])
}

func TestScoreChecker(t *testing.T) {
	mon := monitor.New(monitor.Config{})
	checker := NewScoreChecker(mon, time.Minute, 70)

	// No traffic scores 100
	check := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "100.0", check.Metadata["score"])

	// Slow uncached failures drag the score under the floor
	for i := 0; i < 10; i++ {
		id := mon.StartTracking(context.Background(), "patients", metrics.PriorityNormal)
		require.NoError(t, mon.EndTracking(id, monitor.Outcome{ErrorKind: errors.KindNetwork, CircuitState: breaker.StateOpen}))
	}

	check = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.NotEmpty(t, check.Message)
}
