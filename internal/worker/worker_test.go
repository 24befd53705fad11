package worker

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/txwire/internal/config"
	"github.com/txwire/internal/health"
	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transaction"
	"github.com/txwire/pkg/transaction/http1"
	"github.com/txwire/pkg/transport"
)

func startTarget(t *testing.T, hits *atomic.Int64) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := transport.NewServer(transport.DefaultServerConfig(), transport.HandlerFunc(func(ex *http1.Exchange) {
		hits.Add(1)
		if ex.Req().URL == "/missing" {
			ex.Res().StatusCode = http.StatusNotFound
			return
		}
		ex.Res().SetBody(protocol.StaticContent([]byte(ex.Req().Method + " " + ex.Req().Body().String())))
	}))
	go srv.Serve(ln)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return "http://" + ln.Addr().String()
}

func newClient(t *testing.T) *transport.Client {
	cfg := transport.DefaultClientConfig()
	cfg.InactivityTimeout = 2 * time.Second
	return transport.NewClient(cfg, transport.WithLogger(zaptest.NewLogger(t)))
}

func TestStatsSnapshot(t *testing.T) {
	s := NewStats()
	for i := 1; i <= 100; i++ {
		s.Record("api", string(transaction.OutcomeSuccess), http.StatusOK, time.Duration(i)*time.Millisecond)
	}
	s.Record("api", string(transaction.OutcomeConnectionError), 0, 0)
	s.Record("slow", string(transaction.OutcomeStatusError), http.StatusBadGateway, 2*time.Hour)

	sum := s.Snapshot()
	assert.EqualValues(t, 102, sum.Total)
	assert.EqualValues(t, 100, sum.Outcomes["success"])
	assert.EqualValues(t, 1, sum.Outcomes["connection_error"])
	assert.EqualValues(t, 101, sum.Targets["api"])
	assert.Equal(t, []int{http.StatusOK, http.StatusBadGateway}, sum.StatusCodes())

	assert.Equal(t, time.Microsecond, sum.Min)
	assert.InDelta(t, 50*time.Millisecond, sum.P50, float64(time.Millisecond))
	assert.InDelta(t, 99*time.Millisecond, sum.P99, float64(2*time.Millisecond))
	assert.InDelta(t, time.Minute, sum.Max, float64(100*time.Millisecond), "clamped to the histogram range")
	assert.Positive(t, sum.Throughput())
}

func TestStatsEmpty(t *testing.T) {
	sum := NewStats().Snapshot()
	assert.Zero(t, sum.Total)
	assert.Zero(t, sum.P99)
	assert.Empty(t, sum.StatusCodes())
	assert.Zero(t, Summary{}.Throughput())
}

func TestPoolRunsJobs(t *testing.T) {
	var hits atomic.Int64
	url := startTarget(t, &hits)

	metrics := health.NewMetrics(prometheus.NewRegistry())
	pool := NewPool(config.Worker{PoolSize: 4, QueueSize: 16}, newClient(t),
		WithMetrics(metrics), WithLogger(zaptest.NewLogger(t)))
	pool.Start(context.Background())

	ok := config.Target{Name: "ok", URL: url + "/", Method: http.MethodPost, Body: "payload"}
	missing := config.Target{Name: "missing", URL: url + "/missing", Method: http.MethodGet}
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.SubmitWait(context.Background(), Job{Target: ok}))
	}
	require.True(t, pool.Submit(Job{Target: missing}))
	require.True(t, pool.Submit(Job{Target: config.Target{Name: "bad", URL: "ftp://nowhere", Method: http.MethodGet}}))

	pool.Drain(2 * time.Second)
	pool.Stop()

	sum := pool.Stats().Snapshot()
	assert.EqualValues(t, 12, sum.Total)
	assert.EqualValues(t, 10, sum.Outcomes["success"])
	assert.EqualValues(t, 1, sum.Outcomes["status_error"])
	assert.EqualValues(t, 1, sum.Outcomes[OutcomeInvalid])
	assert.EqualValues(t, 1, sum.Statuses[http.StatusNotFound])
	assert.EqualValues(t, 11, hits.Load())
	assert.Zero(t, pool.Active())
	assert.Zero(t, testutil.ToFloat64(metrics.ActiveWorkers))
}

func TestPoolSubmitFullQueue(t *testing.T) {
	pool := NewPool(config.Worker{PoolSize: 1, QueueSize: 1}, newClient(t))

	require.True(t, pool.Submit(Job{}))
	assert.False(t, pool.Submit(Job{}))
	assert.Equal(t, 1, pool.QueueSize())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.SubmitWait(ctx, Job{}), context.DeadlineExceeded)
}

func TestPoolRateLimit(t *testing.T) {
	var hits atomic.Int64
	url := startTarget(t, &hits)

	metrics := health.NewMetrics(prometheus.NewRegistry())
	pool := NewPool(config.Worker{PoolSize: 4, QueueSize: 16, Rate: 20}, newClient(t), WithMetrics(metrics))
	assert.Equal(t, 20.0, testutil.ToFloat64(metrics.TargetTPS))

	pool.Start(context.Background())
	start := time.Now()
	for i := 0; i < 6; i++ {
		require.True(t, pool.Submit(Job{Target: config.Target{Name: "ok", URL: url, Method: http.MethodGet}}))
	}
	pool.Drain(2 * time.Second)
	pool.Stop()

	// Burst of 2 then 50ms per token.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.EqualValues(t, 6, hits.Load())

	pool.SetRate(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.TargetTPS))
}

func TestPoolAbort(t *testing.T) {
	pool := NewPool(config.Worker{PoolSize: 2, QueueSize: 8, Rate: 1}, newClient(t))
	pool.Start(context.Background())
	for i := 0; i < 8; i++ {
		pool.Submit(Job{Target: config.Target{Name: "x", URL: "http://127.0.0.1:1", Method: http.MethodGet}})
	}

	done := make(chan struct{})
	go func() {
		pool.Abort()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not return")
	}
}
