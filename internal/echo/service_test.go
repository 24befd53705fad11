package echo

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transaction"
	"github.com/txwire/pkg/transport"
)

func startService(t *testing.T, reverseProxy bool) (*Service, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	svc := NewService(zaptest.NewLogger(t))
	cfg := transport.DefaultServerConfig()
	cfg.ReverseProxy = reverseProxy
	srv := transport.NewServer(cfg, svc, transport.WithLogger(zaptest.NewLogger(t)))
	srv.HandleWebSocket(svc.ServeWebSocket)
	go srv.Serve(ln)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return svc, ln.Addr().String()
}

func do(t *testing.T, req *protocol.Request) *protocol.Response {
	t.Helper()
	cfg := transport.DefaultClientConfig()
	cfg.InactivityTimeout = 2 * time.Second
	ex, err := transport.NewClient(cfg).Do(context.Background(), req)
	require.NoError(t, err)
	if err := ex.Error(); err != nil && err.Code == 0 {
		t.Fatalf("connection error: %v", err)
	}
	return ex.Res()
}

func TestEchoReflectsRequest(t *testing.T) {
	_, addr := startService(t, true)

	req := protocol.NewRequest(http.MethodPut, "http://"+addr+"/echo/items?id=7")
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 203.0.113.9")
	req.SetBody(protocol.StaticContent([]byte("payload")))
	res := do(t, req)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	var got struct {
		Method        string              `json:"method"`
		Path          string              `json:"path"`
		Query         map[string][]string `json:"query"`
		Body          string              `json:"body"`
		RemoteAddress string              `json:"remote_address"`
		PeerAddress   string              `json:"peer_address"`
		Connection    string              `json:"connection"`
		RequestID     string              `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(res.Body().Bytes(), &got))
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/echo/items", got.Path)
	assert.Equal(t, []string{"7"}, got.Query["id"])
	assert.Equal(t, "payload", got.Body)
	assert.Equal(t, "203.0.113.9", got.RemoteAddress)
	assert.Equal(t, "127.0.0.1", got.PeerAddress)
	assert.NotEmpty(t, got.Connection)
	assert.NotEmpty(t, got.RequestID)
}

func TestEchoIgnoresForwardedForWithoutProxy(t *testing.T) {
	_, addr := startService(t, false)

	req := protocol.NewRequest(http.MethodGet, "http://"+addr+"/echo")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	res := do(t, req)

	var got map[string]any
	require.NoError(t, json.Unmarshal(res.Body().Bytes(), &got))
	assert.Equal(t, "127.0.0.1", got["remote_address"])
}

func TestStream(t *testing.T) {
	svc, addr := startService(t, false)

	res := do(t, protocol.NewRequest(http.MethodGet, "http://"+addr+"/stream?n=3&interval=10ms"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "chunk 1\nchunk 2\nchunk 3\n", res.Body().String())
	assert.EqualValues(t, 1, svc.Stats().StreamedResponses.Load())

	res = do(t, protocol.NewRequest(http.MethodGet, "http://"+addr+"/stream?n=0"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.Body().String())
}

func TestStreamRejectsBadParameters(t *testing.T) {
	svc, addr := startService(t, false)

	for _, q := range []string{"n=-1", "n=abc", "n=5000", "interval=forever", "interval=1m"} {
		res := do(t, protocol.NewRequest(http.MethodGet, "http://"+addr+"/stream?"+q))
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, q)
	}
	assert.EqualValues(t, 5, svc.Stats().Errors.Load())
}

func TestRoutes(t *testing.T) {
	_, addr := startService(t, false)

	tests := []struct {
		path string
		code int
		key  string
	}{
		{"/", http.StatusOK, "service"},
		{"/health", http.StatusOK, "uptime"},
		{"/stats", http.StatusOK, "total_requests"},
		{"/nope", http.StatusNotFound, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res := do(t, protocol.NewRequest(http.MethodGet, "http://"+addr+tt.path))
			assert.Equal(t, tt.code, res.StatusCode)

			var got map[string]any
			require.NoError(t, json.Unmarshal(res.Body().Bytes(), &got))
			assert.Contains(t, got, tt.key)
		})
	}
}

func TestWebSocketEcho(t *testing.T) {
	svc, addr := startService(t, false)

	cfg := transport.DefaultClientConfig()
	sess, err := transport.NewClient(cfg).DialWebSocket(context.Background(), "ws://"+addr+"/ws")
	require.NoError(t, err)
	assert.Equal(t, transaction.KindWebSocket, sess.Tx().Kind())

	for _, text := range []string{"one", "two"} {
		require.NoError(t, sess.SendText(text))
		select {
		case m := <-sess.Messages():
			assert.Equal(t, text, m.Text())
		case <-time.After(2 * time.Second):
			t.Fatal("no echo")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sess.Close(ctx))
	assert.EqualValues(t, 2, svc.Stats().WebSocketMessages.Load())
}
