package controller

import (
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/txwire/internal/config"
	"github.com/txwire/internal/health"
	"github.com/txwire/internal/worker"
	"github.com/txwire/pkg/transaction/http1"
	"github.com/txwire/pkg/transport"
)

type counter struct{ a, b atomic.Int64 }

func startTarget(t *testing.T, c *counter) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := transport.NewServer(transport.DefaultServerConfig(), transport.HandlerFunc(func(ex *http1.Exchange) {
		if strings.HasPrefix(ex.Req().URL, "/a") {
			c.a.Add(1)
		} else {
			c.b.Add(1)
		}
	}))
	go srv.Serve(ln)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return "http://" + ln.Addr().String()
}

func newPool(t *testing.T) *worker.Pool {
	cfg := transport.DefaultClientConfig()
	cfg.InactivityTimeout = 2 * time.Second
	client := transport.NewClient(cfg)
	return worker.NewPool(config.Worker{PoolSize: 4, QueueSize: 8}, client, worker.WithLogger(zaptest.NewLogger(t)))
}

func TestRunRequestBudget(t *testing.T) {
	var c counter
	url := startTarget(t, &c)
	targets := []config.Target{
		{Name: "a", URL: url + "/a", Method: "GET", Weight: 90},
		{Name: "b", URL: url + "/b", Method: "GET", Weight: 10},
	}

	ctrl := NewController(Plan{Requests: 200}, targets, newPool(t), nil, zaptest.NewLogger(t))
	sum, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 200, sum.Total)
	assert.EqualValues(t, 200, sum.Outcomes["success"])
	assert.EqualValues(t, 200, c.a.Load()+c.b.Load())
	assert.Greater(t, c.a.Load(), c.b.Load(), "weights steer selection")
	assert.Equal(t, sum.Targets["a"], c.a.Load())
}

func TestRunDuration(t *testing.T) {
	var c counter
	url := startTarget(t, &c)

	ctrl := NewController(Plan{Duration: 200 * time.Millisecond, Rate: 50, RampUp: 100 * time.Millisecond},
		[]config.Target{{Name: "a", URL: url + "/a", Method: "GET"}}, newPool(t), nil, zaptest.NewLogger(t))

	start := time.Now()
	sum, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Positive(t, sum.Total)
	assert.Less(t, sum.Total, int64(50), "rate limited")
}

func TestRunSkipsUnhealthyTargets(t *testing.T) {
	var c counter
	url := startTarget(t, &c)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	down := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	targets := []config.Target{
		{Name: "a", URL: url + "/a", Method: "GET", Weight: 1},
		{Name: "down", URL: down, Method: "GET", Weight: 1},
	}
	client := transport.NewClient(transport.DefaultClientConfig())
	checker := health.NewChecker(config.Health{Enabled: true, Interval: time.Hour, Timeout: time.Second},
		targets, client, health.NewMetrics(prometheus.NewRegistry()))
	checker.CheckAll(context.Background())
	require.False(t, checker.IsHealthy("down"))

	sum, err := NewController(Plan{Requests: 20}, targets, newPool(t), checker, nil).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 20, sum.Outcomes["success"])
	assert.Zero(t, sum.Targets["down"])
}

func TestRunWithoutTargets(t *testing.T) {
	_, err := NewController(Plan{Requests: 1}, nil, newPool(t), nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoTargets)
}
