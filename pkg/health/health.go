package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/queryguard/queryguard/pkg/breaker"
	"github.com/queryguard/queryguard/pkg/logging"
	"github.com/queryguard/queryguard/pkg/monitor"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check represents one health check result
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Response represents the overall health response
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]*Check `json:"checks"`
}

// Checker interface for health checks
type Checker interface {
	Check(ctx context.Context) *Check
}

// Service provides health checking functionality
type Service struct {
	checkers map[string]Checker
	logger   *logging.Logger
	mutex    sync.RWMutex
}

// NewService creates a new health check service
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Service{
		checkers: make(map[string]Checker),
		logger:   logger,
	}
}

// RegisterChecker registers a health checker
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkers[name] = checker
}

// CheckAll runs every registered checker and reduces to an overall status.
// Any unhealthy check makes the whole response unhealthy; any degraded check
// makes it degraded.
func (s *Service) CheckAll(ctx context.Context) *Response {
	start := time.Now()

	s.mutex.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	s.mutex.RUnlock()

	response := &Response{
		Status:    StatusHealthy,
		Timestamp: start,
		Checks:    make(map[string]*Check, len(checkers)),
	}

	for name, checker := range checkers {
		check := checker.Check(ctx)
		response.Checks[name] = check

		switch check.Status {
		case StatusUnhealthy:
			response.Status = StatusUnhealthy
		case StatusDegraded:
			if response.Status == StatusHealthy {
				response.Status = StatusDegraded
			}
		}
	}

	response.Duration = time.Since(start)
	return response
}

// GinHandler serves the health response; 503 when unhealthy
func (s *Service) GinHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response := s.CheckAll(c.Request.Context())

		status := http.StatusOK
		if response.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, response)
	}
}

// BreakerChecker reports degraded when any breaker is half-open and
// unhealthy when any breaker is open.
type BreakerChecker struct {
	registry *breaker.Registry
}

// NewBreakerChecker creates a checker over the breaker registry
func NewBreakerChecker(registry *breaker.Registry) *BreakerChecker {
	return &BreakerChecker{registry: registry}
}

// Check implements Checker
func (bc *BreakerChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      "circuit_breakers",
		Status:    StatusHealthy,
		Timestamp: start,
		Metadata:  make(map[string]string),
	}

	var open, halfOpen int
	for resource, snapshot := range bc.registry.Snapshots() {
		check.Metadata[resource] = snapshot.StateName
		switch snapshot.State {
		case breaker.StateOpen:
			open++
		case breaker.StateHalfOpen:
			halfOpen++
		}
	}

	switch {
	case open > 0:
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("%d circuit breaker(s) open", open)
	case halfOpen > 0:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d circuit breaker(s) recovering", halfOpen)
	}

	check.Duration = time.Since(start)
	return check
}

// ScoreChecker reports degraded when the composite health score of the
// recent query window drops below the floor.
type ScoreChecker struct {
	monitor *monitor.Monitor
	window  time.Duration
	floor   float64
}

// NewScoreChecker creates a checker over the monitor's health score
func NewScoreChecker(m *monitor.Monitor, window time.Duration, floor float64) *ScoreChecker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if floor <= 0 {
		floor = 70
	}
	return &ScoreChecker{monitor: m, window: window, floor: floor}
}

// Check implements Checker
func (sc *ScoreChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	report := sc.monitor.Health(sc.window)

	check := &Check{
		Name:      "query_health_score",
		Status:    StatusHealthy,
		Timestamp: start,
		Metadata: map[string]string{
			"score": fmt.Sprintf("%.1f", report.Score),
		},
	}

	if report.Score < sc.floor {
		check.Status = StatusDegraded
		if len(report.Issues) > 0 {
			check.Message = report.Issues[0]
		}
	}

	check.Duration = time.Since(start)
	return check
}
