package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/txwire/internal/config"
	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transport"
)

// Checker performs periodic health checks on targets.
type Checker struct {
	cfg      config.Health
	targets  []config.Target
	client   *transport.Client
	metrics  *Metrics
	logger   *zap.Logger
	grpc     *grpchealth.Server
	statuses map[string]bool
	mu       sync.RWMutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithLogger sets the checker logger.
func WithLogger(l *zap.Logger) CheckerOption {
	return func(c *Checker) { c.logger = l }
}

// WithGRPCHealth publishes target status to a gRPC health service. Each
// target is a service name; the empty name reports overall readiness.
func WithGRPCHealth(hs *grpchealth.Server) CheckerOption {
	return func(c *Checker) { c.grpc = hs }
}

// NewChecker creates a new health checker. Probes go through client.
func NewChecker(cfg config.Health, targets []config.Target, client *transport.Client, metrics *Metrics, opts ...CheckerOption) *Checker {
	c := &Checker{
		cfg:      cfg,
		targets:  targets,
		client:   client,
		metrics:  metrics,
		logger:   zap.NewNop(),
		statuses: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Targets start out healthy until a probe says otherwise.
	for _, t := range targets {
		c.statuses[t.Name] = true
		c.publish(t.Name, true)
	}
	c.publishOverall()
	return c
}

// Start begins periodic health checking. The first round runs right away.
func (c *Checker) Start(ctx context.Context) {
	if !c.cfg.Enabled || len(c.targets) == 0 {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// run is the main health check loop.
func (c *Checker) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll probes every target once.
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, target := range c.targets {
		wg.Add(1)
		go func(t config.Target) {
			defer wg.Done()
			c.checkTarget(ctx, t)
		}(target)
	}
	wg.Wait()
	c.publishOverall()
}

// checkTarget performs a health check on a single target. A target is
// healthy when the transaction succeeds.
func (c *Checker) checkTarget(ctx context.Context, target config.Target) {
	req := protocol.NewRequest("GET", target.URL) // health checks always use GET
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = target.Timeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reason string
	ex, err := c.client.Do(checkCtx, req)
	switch {
	case err != nil:
		reason = err.Error()
	case ex.Success() == nil:
		reason = ex.Error().Error()
	}
	healthy := reason == ""

	c.mu.Lock()
	prev := c.statuses[target.Name]
	c.statuses[target.Name] = healthy
	c.mu.Unlock()

	c.publish(target.Name, healthy)

	if prev != healthy {
		if healthy {
			c.logger.Info("target is now healthy", zap.String("target", target.Name))
		} else {
			c.logger.Warn("target is now unhealthy", zap.String("target", target.Name), zap.String("reason", reason))
		}
	}
}

func (c *Checker) publish(name string, healthy bool) {
	if c.metrics != nil {
		c.metrics.SetTargetHealth(name, healthy)
	}
	if c.grpc != nil {
		c.grpc.SetServingStatus(name, servingStatus(healthy))
	}
}

func (c *Checker) publishOverall() {
	if c.grpc != nil {
		c.grpc.SetServingStatus("", servingStatus(c.Ready()))
	}
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// IsHealthy returns whether a target is currently healthy.
func (c *Checker) IsHealthy(targetName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statuses[targetName]
}

// Ready reports whether every target is healthy. With no targets it is
// always ready.
func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.targets {
		if !c.statuses[t.Name] {
			return false
		}
	}
	return true
}

// HealthyTargets returns a slice of healthy targets.
func (c *Checker) HealthyTargets() []config.Target {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var healthy []config.Target
	for _, t := range c.targets {
		if c.statuses[t.Name] {
			healthy = append(healthy, t)
		}
	}
	return healthy
}

// Stop stops the health checker and waits for the running round.
func (c *Checker) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}
