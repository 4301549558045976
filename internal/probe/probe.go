package probe

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/queryguard/queryguard/pkg/breaker"
	"github.com/queryguard/queryguard/pkg/errors"
	"github.com/queryguard/queryguard/pkg/logging"
	"github.com/queryguard/queryguard/pkg/metrics"
	"github.com/queryguard/queryguard/pkg/monitor"
)

// Config holds synthetic workload configuration
type Config struct {
	// Resources are the synthetic resource names to exercise
	Resources []string
	// Interval between synthetic executions per resource
	Interval time.Duration
	// FailureRate is the probability a synthetic operation fails
	FailureRate float64
	// BaseLatency is the simulated backend latency; jitter doubles it at most
	BaseLatency time.Duration
	// CacheHitRate is the probability a synthetic operation is a cache hit
	CacheHitRate float64
}

func (c *Config) applyDefaults() {
	if len(c.Resources) == 0 {
		c.Resources = []string{"patients", "appointments", "invoices"}
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.BaseLatency <= 0 {
		c.BaseLatency = 20 * time.Millisecond
	}
	if c.CacheHitRate == 0 {
		c.CacheHitRate = 0.6
	}
}

// Probe drives a synthetic flaky workload through the breaker registry and
// the performance monitor. It exists for soak testing and demos; production
// traffic arrives through the library API instead.
type Probe struct {
	cfg      Config
	registry *breaker.Registry
	monitor  *monitor.Monitor
	logger   *logging.Logger
	rng      *rand.Rand

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// New creates a probe over the given registry and monitor
func New(cfg Config, registry *breaker.Registry, mon *monitor.Monitor, logger *logging.Logger) *Probe {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Probe{
		cfg:      cfg,
		registry: registry,
		monitor:  mon,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the workload loop
func (p *Probe) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})

	go p.loop(ctx, p.stopChan)
	p.logger.Info("Synthetic probe started",
		"resources", len(p.cfg.Resources),
		"interval", p.cfg.Interval.String(),
	)
}

// Stop halts the workload loop
func (p *Probe) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	close(p.stopChan)
	p.running = false
	p.logger.Info("Synthetic probe stopped")
}

func (p *Probe) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			for _, resource := range p.cfg.Resources {
				p.executeOnce(ctx, resource)
			}
		}
	}
}

func (p *Probe) executeOnce(ctx context.Context, resource string) {
	cb := p.registry.Get(resource)

	p.mu.Lock()
	fail := p.rng.Float64() < p.cfg.FailureRate
	cacheHit := p.rng.Float64() < p.cfg.CacheHitRate
	latency := p.cfg.BaseLatency + time.Duration(p.rng.Int63n(int64(p.cfg.BaseLatency)+1))
	p.mu.Unlock()

	if cacheHit {
		latency /= 4
	}

	id := p.monitor.StartTracking(ctx, resource, metrics.PriorityNormal)

	_, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(latency):
		}
		if fail {
			return nil, errors.NewNetworkError(resource, "synthetic backend failure")
		}
		return resource, nil
	})

	out := monitor.Outcome{
		CacheHit:     cacheHit,
		DedupSaved:   false,
		ResultCount:  1,
		CircuitState: cb.State().State,
	}
	if err != nil {
		out.ErrorKind = errors.GetKind(err)
		out.ResultCount = 0
	}

	if endErr := p.monitor.EndTracking(id, out); endErr != nil {
		p.logger.Warn("Probe end tracking failed", "error", endErr)
	}
}
