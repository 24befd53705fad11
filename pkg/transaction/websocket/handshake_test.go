package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transaction"
	"github.com/txwire/pkg/transaction/http1"
)

func TestAcceptKey(t *testing.T) {
	// RFC 6455 section 1.3.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestIsUpgrade(t *testing.T) {
	upgrade := func(method, conn, up string) *protocol.Request {
		req := protocol.NewRequest(method, "/")
		if conn != "" {
			req.Header.Set("Connection", conn)
		}
		if up != "" {
			req.Header.Set("Upgrade", up)
		}
		return req
	}

	tests := []struct {
		name string
		req  *protocol.Request
		want bool
	}{
		{"plain", upgrade("GET", "Upgrade", "websocket"), true},
		{"token list", upgrade("GET", "keep-alive, Upgrade", "WebSocket"), true},
		{"post", upgrade("POST", "Upgrade", "websocket"), false},
		{"no connection token", upgrade("GET", "keep-alive", "websocket"), false},
		{"other protocol", upgrade("GET", "Upgrade", "h2c"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUpgrade(tt.req))
		})
	}
}

func TestNewClientRequest(t *testing.T) {
	req, err := NewClientRequest("wss://example.com/feed?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/feed?x=1", req.URL)
	assert.Equal(t, "13", req.Header.Get("Sec-WebSocket-Version"))
	assert.Len(t, req.Header.Get("Sec-WebSocket-Key"), 24)
	assert.True(t, IsUpgrade(req))

	_, err = NewClientRequest("ftp://example.com")
	assert.ErrorIs(t, err, ErrHandshake)
}

func TestAcceptRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*protocol.Request)
		want   error
	}{
		{"not upgrade", func(r *protocol.Request) { r.Header.Del("Upgrade") }, ErrNotUpgrade},
		{"missing key", func(r *protocol.Request) { r.Header.Del("Sec-WebSocket-Key") }, ErrHandshake},
		{"old version", func(r *protocol.Request) { r.Header.Set("Sec-WebSocket-Version", "8") }, ErrHandshake},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewClientRequest("ws://example.com/")
			require.NoError(t, err)
			tt.mutate(req)

			hs := http1.NewServer(transaction.WithRequest(req))
			_, err = Accept(hs)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, hs.Upgrade())
		})
	}
}

func TestClientRejectsWrongAcceptKey(t *testing.T) {
	req, err := NewClientRequest("ws://example.com/")
	require.NoError(t, err)

	res := protocol.NewResponse()
	res.StatusCode = 101
	res.Header.Set("Upgrade", "websocket")
	res.Header.Set("Sec-WebSocket-Accept", "bogus")

	hc := http1.NewClient(transaction.WithRequest(req), transaction.WithResponse(res))
	_, err = Client(hc)
	assert.ErrorIs(t, err, ErrHandshake)

	res.StatusCode = 200
	_, err = Client(hc)
	assert.ErrorContains(t, err, "unexpected status 200")
}

func TestAcceptEmitsUpgrade(t *testing.T) {
	req, err := NewClientRequest("ws://example.com/")
	require.NoError(t, err)
	hs := http1.NewServer(transaction.WithRequest(req))

	var upgraded any
	hs.On(transaction.EventUpgrade, func(_ *transaction.Transaction, payload any) { upgraded = payload })

	ws, err := Accept(hs)
	require.NoError(t, err)
	assert.Same(t, ws, upgraded)
	assert.Same(t, hs.Tx(), ws.Previous())
	assert.False(t, hs.KeepAlive())
	assert.Equal(t, AcceptKey(req.Header.Get("Sec-WebSocket-Key")), hs.Res().Header.Get("Sec-WebSocket-Accept"))
}
