// Package controller feeds the worker pool for a benchmark run.
package controller

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/txwire/internal/config"
	"github.com/txwire/internal/health"
	"github.com/txwire/internal/worker"
)

// ErrNoTargets is returned when there is nothing to send traffic to.
var ErrNoTargets = errors.New("controller: no targets")

// Plan bounds a run. The run ends when either limit is reached; zero means
// no limit for that dimension. Without any limit the run lasts until the
// context is cancelled.
type Plan struct {
	Requests int
	Duration time.Duration
	Rate     float64       // target TPS, 0 = unlimited
	RampUp   time.Duration // time to go from 1 TPS to Rate
}

// Controller orchestrates traffic generation.
type Controller struct {
	plan    Plan
	targets []config.Target
	pool    *worker.Pool
	checker *health.Checker
	logger  *zap.Logger

	// Weighted target selection
	totalWeight int
	rng         *rand.Rand
	mu          sync.Mutex

	wg sync.WaitGroup
}

// NewController creates a new controller. checker may be nil.
func NewController(plan Plan, targets []config.Target, pool *worker.Pool, checker *health.Checker, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		plan:    plan,
		targets: targets,
		pool:    pool,
		checker: checker,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, t := range targets {
		c.totalWeight += max(t.Weight, 1)
	}
	return c
}

// selectTarget picks a target based on weights.
func (c *Controller) selectTarget() config.Target {
	c.mu.Lock()
	r := c.rng.Intn(c.totalWeight)
	c.mu.Unlock()

	cumulative := 0
	for _, t := range c.targets {
		cumulative += max(t.Weight, 1)
		if r < cumulative {
			return t
		}
	}
	return c.targets[0]
}

// Run generates traffic until the plan is complete or ctx is done, then
// waits for in-flight transactions and returns the result summary.
func (c *Controller) Run(ctx context.Context) (worker.Summary, error) {
	if len(c.targets) == 0 {
		return worker.Summary{}, ErrNoTargets
	}
	if c.plan.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.plan.Duration)
		defer cancel()
	}

	if c.plan.RampUp > 0 && c.plan.Rate > 0 {
		c.pool.SetRate(1)
		c.wg.Add(1)
		go c.rampUp(ctx)
	} else {
		c.pool.SetRate(c.plan.Rate)
	}
	c.pool.Start(ctx)

	c.logger.Info("benchmark started",
		zap.Int("targets", len(c.targets)),
		zap.Int("requests", c.plan.Requests),
		zap.Duration("duration", c.plan.Duration),
		zap.Float64("rate", c.plan.Rate),
	)

	c.generate(ctx)
	c.pool.Stop()
	c.wg.Wait()

	sum := c.pool.Stats().Snapshot()
	c.logger.Info("benchmark finished",
		zap.Int64("transactions", sum.Total),
		zap.Duration("elapsed", sum.Elapsed),
		zap.Duration("p99", sum.P99),
	)
	return sum, nil
}

// rampUp gradually increases TPS from 1 to the plan rate.
func (c *Controller) rampUp(ctx context.Context) {
	defer c.wg.Done()

	startTime := time.Now()
	startTPS := 1.0
	targetTPS := c.plan.Rate

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(startTime)
			if elapsed >= c.plan.RampUp {
				c.pool.SetRate(targetTPS)
				c.logger.Debug("ramp-up complete", zap.Float64("tps", targetTPS))
				return
			}

			progress := float64(elapsed) / float64(c.plan.RampUp)
			c.pool.SetRate(startTPS + (targetTPS-startTPS)*progress)
		}
	}
}

// generate submits jobs until the request budget is spent or ctx is done.
func (c *Controller) generate(ctx context.Context) {
	for sent := 0; c.plan.Requests <= 0 || sent < c.plan.Requests; {
		if ctx.Err() != nil {
			return
		}

		target := c.selectTarget()
		if c.checker != nil && !c.checker.IsHealthy(target.Name) {
			if len(c.checker.HealthyTargets()) == 0 {
				// Nothing to hit until a probe recovers.
				select {
				case <-ctx.Done():
					return
				case <-time.After(50 * time.Millisecond):
				}
			}
			continue
		}

		if err := c.pool.SubmitWait(ctx, worker.Job{Target: target}); err != nil {
			return
		}
		sent++
	}
}
