package daemon

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/txwire/internal/config"
	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transport"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.ReverseProxy = true
	cfg.Metrics.Address = "127.0.0.1:0"
	cfg.Health.GRPCAddress = "127.0.0.1:0"
	cfg.Health.Interval = time.Hour
	return cfg
}

func TestDaemonServesAndReports(t *testing.T) {
	d := New(testConfig(), zaptest.NewLogger(t))
	require.NoError(t, d.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, d.Stop(ctx))
	}()

	st := d.Status()
	require.NotEmpty(t, st.Address)
	require.NotEmpty(t, st.MetricsAddr)
	require.NotEmpty(t, st.GRPCAddr)
	assert.True(t, st.Ready)

	req := protocol.NewRequest(http.MethodGet, "http://"+st.Address+"/echo")
	req.Header.Set("X-Forwarded-For", "192.0.2.10")
	ex, err := transport.NewClient(transport.DefaultClientConfig()).Do(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, ex.Success(), "error: %v", ex.Error())
	assert.Contains(t, ex.Res().Body().String(), `"remote_address":"192.0.2.10"`)
	assert.EqualValues(t, 1, d.Status().RequestCount)

	// the server observer runs after the response is written
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + st.MetricsAddr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK &&
			strings.Contains(string(body), `txwire_transactions_total{kind="plain",outcome="success",role="server"} 1`)
	}, 2*time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient(st.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestDaemonStartFailsOnBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.Metrics.Address = busy.Addr().String()

	d := New(cfg, zaptest.NewLogger(t))
	err = d.Start(context.Background())
	assert.ErrorContains(t, err, "listen on "+busy.Addr().String())
	assert.Nil(t, d.Addr())
	assert.NoError(t, d.Stop(context.Background()))
}
