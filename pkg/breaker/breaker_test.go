package breaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryguard/queryguard/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return New(Config{
		Resource: "patients",
		Clock:    clock.Now,
	})
}

func failWith(err error) func(context.Context) (interface{}, error) {
	return func(context.Context) (interface{}, error) { return nil, err }
}

func succeed(context.Context) (interface{}, error) { return "ok", nil }

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	for k := 1; k < 5; k++ {
		_, err := cb.Execute(context.Background(), failWith(errors.NewNetworkError("patients", "down")))
		require.Error(t, err)

		snap := cb.State()
		assert.Equal(t, StateClosed, snap.State)
		assert.Equal(t, k, snap.FailureCount)
	}
}

func TestBreaker_FifthFailureOpens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), failWith(errors.NewNetworkError("patients", "down")))
	}

	snap := cb.State()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, clock.Now(), snap.OpenedAt)
	assert.Equal(t, errors.KindNetwork, snap.LastErrorKind)
}

func TestBreaker_OpenFailsFastWithoutInvoking(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), failWith(errors.NewTimeoutError("patients", "select")))
	}
	require.Equal(t, StateOpen, cb.State().State)

	invoked := false
	start := time.Now()
	_, err := cb.Execute(context.Background(), func(context.Context) (interface{}, error) {
		invoked = true
		return nil, nil
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.False(t, invoked)
	assert.Less(t, elapsed, 10*time.Millisecond)

	var coe *CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Equal(t, clock.Now().Add(30*time.Second), coe.ResetETA)
}

func TestBreaker_NonRetryableFailuresNeverOpen(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	for i := 0; i < 10; i++ {
		_, err := cb.Execute(context.Background(), failWith(errors.NewSchemaMismatchError("patients", "column missing")))
		require.Error(t, err)
	}

	snap := cb.State()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
	assert.Equal(t, errors.KindSchemaMismatch, snap.LastErrorKind)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	for i := 0; i < 4; i++ {
		cb.Execute(context.Background(), failWith(errors.NewNetworkError("patients", "down")))
	}
	require.Equal(t, 4, cb.State().FailureCount)

	_, err := cb.Execute(context.Background(), succeed)
	require.NoError(t, err)
	assert.Equal(t, 0, cb.State().FailureCount)
}

func TestBreaker_RecoversThroughHalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), failWith(errors.NewNetworkError("patients", "down")))
	}
	require.Equal(t, StateOpen, cb.State().State)

	clock.Advance(30 * time.Second)

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), succeed)
		require.NoError(t, err)
	}

	snap := cb.State()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
	assert.Equal(t, 0, snap.SuccessCount)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), failWith(errors.NewNetworkError("patients", "down")))
	}
	firstOpenedAt := cb.State().OpenedAt

	clock.Advance(30 * time.Second)

	// One success, then a failure during probation
	_, err := cb.Execute(context.Background(), succeed)
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, cb.State().State)

	clock.Advance(time.Second)
	cb.Execute(context.Background(), failWith(errors.NewNetworkError("patients", "still down")))

	snap := cb.State()
	assert.Equal(t, StateOpen, snap.State)
	assert.True(t, snap.OpenedAt.After(firstOpenedAt))
	assert.Equal(t, 0, snap.SuccessCount)
}

func TestBreaker_ConcurrentSuccesses(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cb.Execute(context.Background(), succeed)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	snap := cb.State()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestBreaker_PublishesTransitionEvents(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	var mu sync.Mutex
	var transitions []Event
	cb.AddListener(func(ev Event) {
		if ev.Type == EventStateChange {
			mu.Lock()
			transitions = append(transitions, ev)
			mu.Unlock()
		}
	})

	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), failWith(errors.NewNetworkError("patients", "down")))
	}
	clock.Advance(30 * time.Second)
	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), succeed)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 3)
	assert.Equal(t, StateOpen, transitions[0].To)
	assert.Equal(t, StateHalfOpen, transitions[1].To)
	assert.Equal(t, StateClosed, transitions[2].To)
}

func TestBreaker_FailureEventsCarryClassification(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	var mu sync.Mutex
	var failures []Event
	cb.AddListener(func(ev Event) {
		if ev.Type == EventFailure {
			mu.Lock()
			failures = append(failures, ev)
			mu.Unlock()
		}
	})

	cb.Execute(context.Background(), failWith(errors.NewPermissionError("patients", "denied")))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	assert.Equal(t, errors.KindPermission, failures[0].Classification.Kind)
	assert.False(t, failures[0].Classification.Retryable)
}

func TestBreaker_Reset(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), failWith(errors.NewNetworkError("patients", "down")))
	}
	require.Equal(t, StateOpen, cb.State().State)

	cb.Reset()

	snap := cb.State()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
	assert.True(t, snap.OpenedAt.IsZero())

	_, err := cb.Execute(context.Background(), succeed)
	assert.NoError(t, err)
}

func TestDo_TypedResult(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	rows, err := Do(context.Background(), cb, func(context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rows)

	_, err = Do(context.Background(), cb, func(context.Context) ([]string, error) {
		return nil, errors.NewNetworkError("patients", "down")
	})
	assert.Error(t, err)
}
