package websocket

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transaction/http1"
)

const keyGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	// ErrNotUpgrade is returned by Accept for requests that do not ask for a
	// WebSocket upgrade.
	ErrNotUpgrade = errors.New("websocket: not an upgrade request")
	// ErrHandshake reports an invalid opening handshake.
	ErrHandshake = errors.New("websocket: bad handshake")
	// ErrClosed is returned when sending after the close frame was queued.
	ErrClosed = errors.New("websocket: connection closed")
)

// AcceptKey computes Sec-WebSocket-Accept for a Sec-WebSocket-Key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + keyGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// IsUpgrade reports whether req asks for a WebSocket upgrade.
func IsUpgrade(req *protocol.Request) bool {
	return req.Method == http.MethodGet &&
		protocol.HasToken(req.Header, "Connection", "upgrade") &&
		protocol.HasToken(req.Header, "Upgrade", "websocket")
}

// NewClientRequest builds an opening handshake request for a ws:// or wss://
// URL. The URL of the returned request uses the matching http scheme.
func NewClientRequest(rawURL string) (*protocol.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrHandshake, u.Scheme)
	}

	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate websocket key: %w", err)
	}

	req := protocol.NewRequest(http.MethodGet, u.String())
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", base64.StdEncoding.EncodeToString(nonce[:]))
	req.Header.Set("Sec-WebSocket-Version", "13")
	return req, nil
}

// Accept answers an upgrade request read by a server exchange. It primes the
// 101 response on hs and attaches the returned exchange as its upgrade.
func Accept(hs *http1.Exchange, opts ...Option) (*Exchange, error) {
	req := hs.Req()
	if !IsUpgrade(req) {
		return nil, ErrNotUpgrade
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, fmt.Errorf("%w: missing Sec-WebSocket-Key", ErrHandshake)
	}
	if v := req.Header.Get("Sec-WebSocket-Version"); v != "13" {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrHandshake, v)
	}

	res := hs.Res()
	res.StatusCode = http.StatusSwitchingProtocols
	res.Header.Set("Upgrade", "websocket")
	res.Header.Set("Connection", "Upgrade")
	res.Header.Set("Sec-WebSocket-Accept", AcceptKey(key))

	ws := newExchange(hs, false, opts)
	hs.SetUpgrade(ws)
	return ws, nil
}

// Client validates the server's answer to a handshake sent through hs and
// returns the exchange that continues on the connection.
func Client(hs *http1.Exchange, opts ...Option) (*Exchange, error) {
	if err := hs.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	res := hs.Res()
	if res.StatusCode != http.StatusSwitchingProtocols {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrHandshake, res.StatusCode)
	}
	if !protocol.HasToken(res.Header, "Upgrade", "websocket") {
		return nil, fmt.Errorf("%w: missing Upgrade header", ErrHandshake)
	}
	want := AcceptKey(hs.Req().Header.Get("Sec-WebSocket-Key"))
	if res.Header.Get("Sec-WebSocket-Accept") != want {
		return nil, fmt.Errorf("%w: accept key mismatch", ErrHandshake)
	}

	ws := newExchange(hs, true, opts)
	hs.SetUpgrade(ws)
	return ws, nil
}
