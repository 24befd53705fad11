package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/txwire/internal/config"
	"github.com/txwire/internal/health"
	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transport"
)

// OutcomeInvalid marks requests the client refused to send.
const OutcomeInvalid = "invalid_request"

// Job represents a single transaction to run.
type Job struct {
	Target config.Target
}

// Pool manages a pool of worker goroutines.
type Pool struct {
	cfg      config.Worker
	client   *transport.Client
	metrics  *health.Metrics
	stats    *Stats
	logger   *zap.Logger
	limiter  *rate.Limiter
	jobs     chan Job
	wg       sync.WaitGroup
	active   atomic.Int64
	tpsCount atomic.Int64
	cancel   context.CancelFunc
	mu       sync.Mutex
	stopOnce sync.Once
}

// Option configures a Pool.
type Option func(*Pool)

// WithMetrics reports pool gauges to m.
func WithMetrics(m *health.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a new worker pool sending through client.
func NewPool(cfg config.Worker, client *transport.Client, opts ...Option) *Pool {
	p := &Pool{
		cfg:     cfg,
		client:  client,
		stats:   NewStats(),
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1),
		jobs:    make(chan Job, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.SetRate(cfg.Rate)
	return p
}

// Start launches the worker pool.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.cfg.PoolSize; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	go p.measureTPS(ctx)

	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.PoolSize),
		zap.Int("queue_size", p.cfg.QueueSize),
	)
}

// worker is the main worker goroutine.
func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.processJob(ctx, job)
		}
	}
}

// processJob executes a single job.
func (p *Pool) processJob(ctx context.Context, job Job) {
	if err := p.limiter.Wait(ctx); err != nil {
		return // context cancelled
	}

	n := p.active.Add(1)
	p.setActive(n)
	defer func() { p.setActive(p.active.Add(-1)) }()

	req := protocol.NewRequest(job.Target.Method, job.Target.URL)
	for k, v := range job.Target.Headers {
		req.Header.Set(k, v)
	}
	if job.Target.Body != "" {
		req.SetBody(protocol.StaticContent([]byte(job.Target.Body)))
	}

	reqCtx := ctx
	if job.Target.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, job.Target.Timeout)
		defer cancel()
	}

	start := time.Now()
	ex, err := p.client.Do(reqCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Warn("request rejected", zap.String("target", job.Target.Name), zap.Error(err))
		p.stats.Record(job.Target.Name, OutcomeInvalid, 0, elapsed)
		return
	}
	// Cancellation at shutdown is not a result.
	if ctx.Err() != nil {
		return
	}

	p.stats.Record(job.Target.Name, string(ex.Outcome()), ex.Res().StatusCode, elapsed)
	p.tpsCount.Add(1)
}

func (p *Pool) setActive(n int64) {
	if p.metrics != nil {
		p.metrics.SetActiveWorkers(int(n))
	}
}

// measureTPS periodically calculates and updates the actual TPS.
func (p *Pool) measureTPS(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := p.tpsCount.Swap(0)
			if p.metrics != nil {
				p.metrics.SetCurrentTPS(float64(count))
				p.metrics.SetQueuedRequests(len(p.jobs))
			}
		}
	}
}

// Submit adds a job to the queue without blocking. It reports false when the
// queue is full.
func (p *Pool) Submit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// SubmitWait adds a job to the queue, waiting for room until ctx is done.
func (p *Pool) SubmitWait(ctx context.Context, job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetRate updates the rate limiter. Zero or less means unlimited.
func (p *Pool) SetRate(tps float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tps <= 0 {
		p.limiter.SetLimit(rate.Inf)
		p.limiter.SetBurst(1)
	} else {
		p.limiter.SetLimit(rate.Limit(tps))
		p.limiter.SetBurst(max(int(tps/10), 1)) // burst of 10% of TPS
	}

	if p.metrics != nil {
		p.metrics.SetTargetTPS(tps)
	}
}

// Stats returns the result aggregate.
func (p *Pool) Stats() *Stats { return p.stats }

// Active returns the number of currently active workers.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// QueueSize returns the current queue length.
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// Stop closes the queue, lets the workers finish what is queued and waits.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
		if p.cancel != nil {
			p.cancel()
		}
		p.logger.Info("worker pool stopped")
	})
}

// Abort cancels in-flight transactions and stops the workers.
func (p *Pool) Abort() {
	if p.cancel != nil {
		p.cancel()
	}
	p.Stop()
}

// Drain waits for queued and in-flight requests to complete, at most
// timeout.
func (p *Pool) Drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	for (len(p.jobs) > 0 || p.active.Load() > 0) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if remaining := p.active.Load(); remaining > 0 {
		p.logger.Warn("drain timeout", zap.Int64("in_flight", remaining))
	}
}
