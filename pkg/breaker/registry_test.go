package breaker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryguard/queryguard/pkg/errors"
)

func TestRegistry_GetCreatesOnce(t *testing.T) {
	r := NewRegistry(Config{})

	first := r.Get("patients")
	second := r.Get("patients")
	assert.Same(t, first, second)
	assert.NotSame(t, first, r.Get("appointments"))
}

func TestRegistry_GetConcurrent(t *testing.T) {
	r := NewRegistry(Config{})

	var wg sync.WaitGroup
	breakers := make([]*CircuitBreaker, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			breakers[i] = r.Get("patients")
		}(i)
	}
	wg.Wait()

	for i := 1; i < 50; i++ {
		assert.Same(t, breakers[0], breakers[i])
	}
}

func TestRegistry_ListenersAttachToNewBreakers(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	r := NewRegistry(Config{}, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	cb := r.Get("patients")
	cb.Execute(context.Background(), failWith(errors.NewNetworkError("patients", "down")))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, "patients", events[0].Resource)
}

func TestRegistry_Snapshots(t *testing.T) {
	r := NewRegistry(Config{})
	r.Get("patients")
	r.Get("appointments")

	snapshots := r.Snapshots()
	require.Len(t, snapshots, 2)
	assert.Equal(t, StateClosed, snapshots["patients"].State)
	assert.Equal(t, StateClosed, snapshots["appointments"].State)
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry(Config{})
	cb := r.Get("patients")

	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), failWith(errors.NewNetworkError("patients", "down")))
	}
	require.Equal(t, StateOpen, cb.State().State)

	assert.True(t, r.Reset("patients"))
	assert.Equal(t, StateClosed, cb.State().State)

	assert.False(t, r.Reset("unknown"))
}
