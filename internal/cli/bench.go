package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/txwire/internal/config"
	"github.com/txwire/internal/controller"
	"github.com/txwire/internal/health"
	"github.com/txwire/internal/worker"
	"github.com/txwire/pkg/transport"
)

var (
	benchRequests    int
	benchDuration    time.Duration
	benchConcurrency int
	benchRate        float64
	benchRampUp      time.Duration
	benchMethod      string
	benchHeaders     []string
	benchBody        string
	benchHealth      bool
	benchMetricsAddr string
)

var benchCmd = &cobra.Command{
	Use:   "bench [URL]",
	Short: "Generate load and report latency percentiles",
	Long: `Send transactions to a URL, or to the targets of the config file, and
report throughput, outcomes and latency percentiles.

Examples:
  txwire bench -n 1000 -c 20 http://localhost:8080/echo
  txwire bench -d 30s --rate 500 --ramp-up 5s http://localhost:8080/health
  txwire bench -c txwire.yaml -d 1m --health`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBench,
}

func init() {
	f := benchCmd.Flags()
	f.IntVarP(&benchRequests, "requests", "n", 0, "Number of requests (0 = until duration)")
	f.DurationVarP(&benchDuration, "duration", "d", 0, "Run duration (0 = until request count)")
	f.IntVar(&benchConcurrency, "concurrency", 0, "Worker count (overrides config)")
	f.Float64Var(&benchRate, "rate", -1, "Requests per second, 0 = unlimited (overrides config)")
	f.DurationVar(&benchRampUp, "ramp-up", 0, "Ramp from 1 TPS to the rate over this period")
	f.StringVarP(&benchMethod, "method", "X", http.MethodGet, "Request method for the URL argument")
	f.StringArrayVarP(&benchHeaders, "header", "H", nil, "Request header as 'Name: value' (repeatable)")
	f.StringVar(&benchBody, "body", "", "Request body for the URL argument")
	f.BoolVar(&benchHealth, "health", false, "Probe targets and skip unhealthy ones")
	f.StringVar(&benchMetricsAddr, "metrics-address", "", "Serve live Prometheus metrics on this address")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	targets, err := benchTargets(args)
	if err != nil {
		return err
	}
	if benchRequests <= 0 && benchDuration <= 0 {
		return errors.New("set --requests or --duration")
	}

	wcfg := cfg.Worker
	if benchConcurrency > 0 {
		wcfg.PoolSize = benchConcurrency
	}
	if benchRate >= 0 {
		wcfg.Rate = benchRate
	}
	wcfg.QueueSize = max(wcfg.QueueSize, wcfg.PoolSize)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := health.NewMetrics(reg)
	client := transport.NewClient(cfg.Client.TransportConfig(),
		transport.WithLogger(logger.Named("client")),
		transport.WithObserver(metrics),
	)

	if benchMetricsAddr != "" {
		stopMetrics, err := serveBenchMetrics(reg)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	var checker *health.Checker
	if benchHealth {
		hcfg := cfg.Health
		hcfg.Enabled = true
		checker = health.NewChecker(hcfg, targets, client, metrics, health.WithLogger(logger.Named("health")))
		checker.CheckAll(ctx)
		checker.Start(ctx)
		defer checker.Stop()
	}

	pool := worker.NewPool(wcfg, client, worker.WithMetrics(metrics), worker.WithLogger(logger.Named("worker")))
	plan := controller.Plan{
		Requests: benchRequests,
		Duration: benchDuration,
		Rate:     wcfg.Rate,
		RampUp:   benchRampUp,
	}

	p := printerFor(cmd)
	p.Title("txwire bench")
	p.Info("%d target(s), %d workers, rate %s", len(targets), wcfg.PoolSize, rateLabel(wcfg.Rate))

	sum, err := controller.NewController(plan, targets, pool, checker, logger.Named("controller")).Run(ctx)
	if err != nil {
		return err
	}
	p.Summary(sum)
	return nil
}

// benchTargets returns the single URL target, or the configured targets.
func benchTargets(args []string) ([]config.Target, error) {
	if len(args) == 0 {
		if len(cfg.Targets) == 0 {
			return nil, errors.New("no URL given and no targets configured")
		}
		return cfg.Targets, nil
	}

	headers, err := parseHeaders(benchHeaders)
	if err != nil {
		return nil, err
	}
	return []config.Target{{
		Name:    args[0],
		URL:     args[0],
		Method:  strings.ToUpper(benchMethod),
		Headers: headers,
		Body:    benchBody,
		Weight:  1,
		Timeout: cfg.Client.InactivityTimeout,
	}}, nil
}

func serveBenchMetrics(reg *prometheus.Registry) (func(), error) {
	mcfg := cfg.Metrics
	mcfg.Address = benchMetricsAddr
	srv := health.NewServer(mcfg, reg, nil, logger.Named("metrics"))

	ln, err := net.Listen("tcp", benchMetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", benchMetricsAddr, err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}, nil
}

func rateLabel(rate float64) string {
	if rate <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%.0f/s", rate)
}
