// Package daemon runs the long-lived txwire server and its side services.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/txwire/internal/config"
	"github.com/txwire/internal/echo"
	"github.com/txwire/internal/health"
	"github.com/txwire/pkg/transport"
)

// Status is a snapshot of the running daemon.
type Status struct {
	StartTime    time.Time `json:"start_time"`
	Uptime       string    `json:"uptime"`
	Address      string    `json:"address"`
	MetricsAddr  string    `json:"metrics_address,omitempty"`
	GRPCAddr     string    `json:"grpc_address,omitempty"`
	Ready        bool      `json:"ready"`
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
}

// Daemon owns the transaction server, the metrics endpoint, the gRPC health
// service and the upstream health checker.
type Daemon struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *health.Metrics

	service       *echo.Service
	server        *transport.Server
	checker       *health.Checker
	metricsServer *health.Server
	grpcServer    *health.GRPCServer

	mu        sync.Mutex
	listeners []net.Listener
	addrs     Status
	startTime time.Time
	errs      chan error
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New wires the daemon from cfg.
func New(cfg *config.Config, logger *zap.Logger) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := health.NewMetrics(reg)

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  metrics,
		service:  echo.NewService(logger.Named("echo")),
		errs:     make(chan error, 3),
	}

	d.server = transport.NewServer(cfg.Server.TransportConfig(), d.service,
		transport.WithLogger(logger.Named("server")),
		transport.WithObserver(metrics),
	)
	d.server.HandleWebSocket(d.service.ServeWebSocket)

	var checkerOpts []health.CheckerOption
	checkerOpts = append(checkerOpts, health.WithLogger(logger.Named("health")))
	if cfg.Health.GRPCAddress != "" {
		d.grpcServer = health.NewGRPCServer(logger.Named("grpc"))
		checkerOpts = append(checkerOpts, health.WithGRPCHealth(d.grpcServer.Health()))
	}
	probeClient := transport.NewClient(cfg.Client.TransportConfig(), transport.WithLogger(logger.Named("probe")))
	d.checker = health.NewChecker(cfg.Health, cfg.Targets, probeClient, metrics, checkerOpts...)

	if cfg.Metrics.Enabled {
		d.metricsServer = health.NewServer(cfg.Metrics, reg, d.checker.Ready, logger.Named("metrics"))
	}
	return d
}

// Start binds every listener, then serves in the background. A bind failure
// closes whatever was already bound.
func (d *Daemon) Start(ctx context.Context) error {
	ln, err := d.listen(d.cfg.Server.Address)
	if err != nil {
		return err
	}
	var metricsLn, grpcLn net.Listener
	if d.metricsServer != nil {
		if metricsLn, err = d.listen(d.cfg.Metrics.Address); err != nil {
			d.closeListeners()
			return err
		}
	}
	if d.grpcServer != nil {
		if grpcLn, err = d.listen(d.cfg.Health.GRPCAddress); err != nil {
			d.closeListeners()
			return err
		}
	}

	d.mu.Lock()
	d.startTime = time.Now()
	d.addrs.Address = ln.Addr().String()
	if metricsLn != nil {
		d.addrs.MetricsAddr = metricsLn.Addr().String()
	}
	if grpcLn != nil {
		d.addrs.GRPCAddr = grpcLn.Addr().String()
	}
	d.mu.Unlock()

	d.serve("server", func() error {
		if err := d.server.Serve(ln); !errors.Is(err, transport.ErrServerClosed) {
			return err
		}
		return nil
	})
	if metricsLn != nil {
		d.serve("metrics", func() error { return d.metricsServer.Serve(metricsLn) })
	}
	if grpcLn != nil {
		d.serve("grpc", func() error { return d.grpcServer.Serve(grpcLn) })
	}
	d.checker.Start(ctx)

	d.logger.Info("txwire started",
		zap.String("address", ln.Addr().String()),
		zap.Bool("reverse_proxy", d.cfg.Server.ReverseProxy),
		zap.Int("targets", len(d.cfg.Targets)),
	)
	return nil
}

func (d *Daemon) listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, ln)
	d.mu.Unlock()
	return ln, nil
}

func (d *Daemon) closeListeners() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ln := range d.listeners {
		ln.Close()
	}
	d.listeners = nil
}

func (d *Daemon) serve(name string, fn func() error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := fn(); err != nil {
			d.logger.Error("service failed", zap.String("service", name), zap.Error(err))
			d.errs <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}

// Errors reports services that stopped on their own.
func (d *Daemon) Errors() <-chan error { return d.errs }

// Addr returns the transaction server address, or nil before Start.
func (d *Daemon) Addr() net.Addr { return d.server.Addr() }

// Registry exposes the metrics registry.
func (d *Daemon) Registry() *prometheus.Registry { return d.registry }

// Status returns a snapshot of the daemon.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	st := d.addrs
	st.StartTime = d.startTime
	d.mu.Unlock()

	st.Uptime = time.Since(st.StartTime).Round(time.Second).String()
	st.Ready = d.checker.Ready()
	st.RequestCount = d.service.Stats().TotalRequests.Load()
	st.ErrorCount = d.service.Stats().Errors.Load()
	return st
}

// Stop shuts everything down: the transaction server first, so in-flight
// transactions can still be observed, then the side services.
func (d *Daemon) Stop(ctx context.Context) error {
	var err error
	d.stopOnce.Do(func() {
		d.logger.Info("shutting down")

		if serr := d.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("server shutdown: %w", serr)
		}
		d.checker.Stop()
		if d.metricsServer != nil {
			if merr := d.metricsServer.Stop(ctx); merr != nil && err == nil {
				err = fmt.Errorf("metrics shutdown: %w", merr)
			}
		}
		if d.grpcServer != nil {
			d.grpcServer.Stop()
		}
		d.wg.Wait()
		d.logger.Info("stopped")
	})
	return err
}
