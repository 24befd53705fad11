package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/txwire/internal/daemon"
	"github.com/txwire/internal/tui"
)

var (
	serveAddress      string
	serveReverseProxy bool
	serveMetricsAddr  string
	serveNoMetrics    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the echo server",
	Long: `Run the txwire echo server. It answers /echo, /stream, /health and
/stats, echoes WebSocket messages, exposes Prometheus metrics and probes the
configured targets.

Examples:
  txwire serve --address :8080
  txwire serve --reverse-proxy
  TXWIRE_REVERSE_PROXY=true txwire serve -c txwire.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddress, "address", "a", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveReverseProxy, "reverse-proxy", false, "Trust X-Forwarded-For for the remote address")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-address", "", "Metrics listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoMetrics, "no-metrics", false, "Disable the metrics endpoint")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddress != "" {
		cfg.Server.Address = serveAddress
	}
	if cmd.Flags().Changed("reverse-proxy") {
		cfg.Server.ReverseProxy = serveReverseProxy
	}
	if serveMetricsAddr != "" {
		cfg.Metrics.Address = serveMetricsAddr
	}
	if serveNoMetrics {
		cfg.Metrics.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg, logger)
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	p := tui.NewPrinter(cmd.OutOrStdout())
	st := d.Status()
	p.Title("txwire serve")
	p.Info("%s", tui.Tagline())
	p.Info("listening on %s (reverse proxy: %t)", st.Address, cfg.Server.ReverseProxy)
	if st.MetricsAddr != "" {
		p.Info("metrics on %s%s", st.MetricsAddr, cfg.Metrics.Path)
	}
	if st.GRPCAddr != "" {
		p.Info("grpc health on %s", st.GRPCAddr)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-d.Errors():
	}

	shutdownCtx := context.Background()
	if t := cfg.Server.ShutdownTimeout; t > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, t)
		defer cancel()
	}
	if err := d.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return runErr
}
