package breaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/queryguard/queryguard/pkg/errors"
	"github.com/queryguard/queryguard/pkg/logging"
)

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed State = iota
	// StateOpen - circuit is open, requests fail fast
	StateOpen
	// StateHalfOpen - circuit is half-open, trial requests are allowed
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// EventType distinguishes breaker event stream entries
type EventType int

const (
	// EventStateChange - the breaker moved between states
	EventStateChange EventType = iota
	// EventFailure - a wrapped operation failed and was classified
	EventFailure
	// EventSuccess - a wrapped operation completed successfully
	EventSuccess
)

// Event is published to listeners on every transition and classified outcome.
type Event struct {
	Resource       string
	Type           EventType
	From           State
	To             State
	Classification errors.Classification
	Err            error
	At             time.Time
}

// Listener receives breaker events. Listeners are invoked outside the
// breaker's lock and may call back into the breaker.
type Listener func(Event)

// Config holds configuration for a circuit breaker
type Config struct {
	// Resource names the protected remote resource
	Resource string
	// MaxFailures is the retryable failure count that opens the circuit
	MaxFailures int
	// ResetTimeout is how long the circuit stays open before allowing trials
	ResetTimeout time.Duration
	// SuccessesToClose is the consecutive half-open successes needed to close
	SuccessesToClose int
	// Clock overrides time.Now, used by tests
	Clock func() time.Time
	// Logger defaults to the global logger
	Logger *logging.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SuccessesToClose <= 0 {
		c.SuccessesToClose = 3
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = logging.GetLogger()
	}
}

// Snapshot is a read-only copy of breaker state
type Snapshot struct {
	Resource      string           `json:"resource"`
	State         State            `json:"state"`
	StateName     string           `json:"state_name"`
	FailureCount  int              `json:"failure_count"`
	SuccessCount  int              `json:"success_count"`
	LastErrorKind errors.ErrorKind `json:"last_error_kind,omitempty"`
	OpenedAt      time.Time        `json:"opened_at,omitempty"`
	LastFailureAt time.Time        `json:"last_failure_at,omitempty"`
}

// CircuitBreaker guards execution of operations against a remote resource.
// Failure counting and state transitions are linearizable: all bookkeeping
// happens under a single mutex, so two concurrent failures cannot both
// conclude they are the one that opens the circuit.
type CircuitBreaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	lastErrorKind errors.ErrorKind
	openedAt      time.Time
	lastFailureAt time.Time

	listenerMu sync.RWMutex
	listeners  []Listener
}

// New creates a circuit breaker for the given resource
func New(cfg Config) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{cfg: cfg}
}

// AddListener registers a listener for breaker events
func (cb *CircuitBreaker) AddListener(l Listener) {
	cb.listenerMu.Lock()
	defer cb.listenerMu.Unlock()
	cb.listeners = append(cb.listeners, l)
}

// Execute runs op unless the circuit is open. The operation's own error is
// always re-raised to the caller after bookkeeping; the breaker never retries
// internally and never alters the operation's cancellation semantics.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := cb.beforeCall(); err != nil {
		return nil, err
	}

	result, err := op(ctx)
	if err != nil {
		cb.onFailure(err)
		return nil, err
	}

	cb.onSuccess()
	return result, nil
}

// Do is a typed wrapper around Execute for callers that want a concrete
// result type instead of interface{}.
func Do[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error)) (T, error) {
	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return op(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// State returns a read-only snapshot of the breaker
func (cb *CircuitBreaker) State() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Resource:      cb.cfg.Resource,
		State:         cb.state,
		StateName:     cb.state.String(),
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		LastErrorKind: cb.lastErrorKind,
		OpenedAt:      cb.openedAt,
		LastFailureAt: cb.lastFailureAt,
	}
}

// Reset forces the breaker back to closed with zeroed counters. Operator
// action; normal recovery goes through the half-open probation instead.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	prev := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.openedAt = time.Time{}
	now := cb.cfg.Clock()
	cb.mu.Unlock()

	if prev != StateClosed {
		cb.publishTransition(prev, StateClosed, now)
	}
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()

	if cb.state == StateOpen {
		now := cb.cfg.Clock()
		if now.Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			eta := cb.openedAt.Add(cb.cfg.ResetTimeout)
			cb.mu.Unlock()
			return &CircuitOpenError{Resource: cb.cfg.Resource, ResetETA: eta}
		}

		// Reset timeout elapsed: move to half-open and let this call through
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.mu.Unlock()
		cb.publishTransition(StateOpen, StateHalfOpen, now)
		return nil
	}

	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	now := cb.cfg.Clock()
	var transitioned bool
	var from State

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessesToClose {
			from = cb.state
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			transitioned = true
		}
	}
	state := cb.state
	cb.mu.Unlock()

	cb.publish(Event{
		Resource: cb.cfg.Resource,
		Type:     EventSuccess,
		From:     state,
		To:       state,
		At:       now,
	})
	if transitioned {
		cb.publishTransition(from, StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(err error) {
	classification := errors.Classify(err)

	cb.mu.Lock()
	now := cb.cfg.Clock()
	cb.lastFailureAt = now
	cb.lastErrorKind = classification.Kind

	var transitioned bool
	var from, to State

	switch cb.state {
	case StateClosed:
		// Structural failures never move the breaker
		if classification.Retryable {
			cb.failureCount++
			if cb.failureCount >= cb.cfg.MaxFailures {
				from, to = cb.state, StateOpen
				cb.state = StateOpen
				cb.openedAt = now
				transitioned = true
			}
		}
	case StateHalfOpen:
		// Any failure during probation reopens immediately
		from, to = cb.state, StateOpen
		cb.state = StateOpen
		cb.openedAt = now
		cb.successCount = 0
		transitioned = true
	}
	cb.mu.Unlock()

	cb.publish(Event{
		Resource:       cb.cfg.Resource,
		Type:           EventFailure,
		Classification: classification,
		Err:            err,
		At:             now,
	})
	if transitioned {
		cb.publishTransition(from, to, now)
	}
}

func (cb *CircuitBreaker) publishTransition(from, to State, at time.Time) {
	cb.cfg.Logger.LogBreakerTransition(cb.cfg.Resource, from.String(), to.String(), cb.State().FailureCount)
	cb.publish(Event{
		Resource: cb.cfg.Resource,
		Type:     EventStateChange,
		From:     from,
		To:       to,
		At:       at,
	})
}

func (cb *CircuitBreaker) publish(ev Event) {
	cb.listenerMu.RLock()
	listeners := make([]Listener, len(cb.listeners))
	copy(listeners, cb.listeners)
	cb.listenerMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// CircuitOpenError is returned when the circuit is open and the operation was
// never invoked.
type CircuitOpenError struct {
	Resource string
	ResetETA time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %q is open (reset at %s)", e.Resource, e.ResetETA.Format(time.RFC3339))
}

// IsCircuitOpen checks if an error is a circuit open rejection
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return stderrors.As(err, &coe)
}
