package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transaction"
	"github.com/txwire/pkg/transaction/http1"
	"github.com/txwire/pkg/transaction/websocket"
)

// ClientConfig holds client configuration.
type ClientConfig struct {
	DialTimeout       time.Duration
	InactivityTimeout time.Duration
	Limits            protocol.Limits
	TLSInsecure       bool
	UserAgent         string
	MaxMessageSize    int
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:       5 * time.Second,
		InactivityTimeout: 30 * time.Second,
		Limits:            protocol.DefaultLimits(),
		MaxMessageSize:    websocket.DefaultMaxMessage,
	}
}

// Client sends one transaction per connection.
type Client struct {
	cfg ClientConfig
	options
}

// NewClient creates a client.
func NewClient(cfg ClientConfig, opts ...Option) *Client {
	return &Client{cfg: cfg, options: newOptions(opts)}
}

// Do sends req and waits for the response. Network failures do not produce an
// error: they are recorded on the returned exchange, whose Error and Success
// describe the outcome. An error is returned only for requests that cannot be
// sent at all.
func (c *Client) Do(ctx context.Context, req *protocol.Request) (*http1.Exchange, error) {
	u, err := target(req.URL)
	if err != nil {
		return nil, err
	}

	ex := http1.NewClient(transaction.WithRequest(req))
	ex.SetLimits(c.cfg.Limits)
	if c.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	start := time.Now()
	c.observer.TransactionStarted(RoleClient, ex.Tx())
	defer func() {
		c.observer.TransactionFinished(RoleClient, ex.Tx(), time.Since(start))
	}()

	nc, err := c.dial(ctx, u)
	if err != nil {
		ex.Res().SetError(fmt.Sprintf("Connection error: %v", err), 0)
		ex.ClientClose()
		c.logger.Debug("dial failed", zap.String("url", req.URL), zap.Error(err))
		return ex, nil
	}
	cn := newConn(nc)
	defer cn.Close()
	annotate(ex.Tx(), nc, uuid.NewString())

	err = c.driver().run(ctx, cn, ex)
	if errors.Is(err, transaction.ErrNotImplemented) || errors.Is(err, protocol.ErrInvalidHeader) {
		return ex, err
	}

	c.logger.Debug("transaction finished",
		zap.String("conn", ex.Connection()),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", ex.Res().StatusCode),
		zap.String("outcome", string(ex.Outcome())),
		zap.Duration("elapsed", time.Since(start)),
	)
	return ex, nil
}

// DialWebSocket performs the opening handshake against a ws:// or wss:// URL
// and returns the running session.
func (c *Client) DialWebSocket(ctx context.Context, rawURL string, opts ...websocket.Option) (*WebSocketSession, error) {
	req, err := websocket.NewClientRequest(rawURL)
	if err != nil {
		return nil, err
	}
	u, err := target(req.URL)
	if err != nil {
		return nil, err
	}

	hs := http1.NewClient(transaction.WithRequest(req))
	hs.SetLimits(c.cfg.Limits)

	nc, err := c.dial(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	cn := newConn(nc)
	annotate(hs.Tx(), nc, uuid.NewString())

	d := c.driver()
	if err := d.run(ctx, cn, hs); err != nil && !hs.IsFinished() {
		cn.Close()
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}

	opts = append([]websocket.Option{websocket.WithMaxMessageSize(c.cfg.MaxMessageSize)}, opts...)
	ws, err := websocket.Client(hs, opts...)
	if err != nil {
		cn.Close()
		return nil, err
	}

	d.timeout = 0
	return startSession(cn, ws, hs.Leftover(), d, c.logger), nil
}

func (c *Client) driver() driver {
	return driver{role: RoleClient, timeout: c.cfg.InactivityTimeout, observer: c.observer}
}

func (c *Client) dial(ctx context.Context, u *url.URL) (net.Conn, error) {
	nd := &net.Dialer{Timeout: c.cfg.DialTimeout}
	addr := hostPort(u)
	if u.Scheme != "https" {
		return nd.DialContext(ctx, "tcp", addr)
	}
	td := &tls.Dialer{
		NetDialer: nd,
		Config: &tls.Config{
			ServerName:         u.Hostname(),
			InsecureSkipVerify: c.cfg.TLSInsecure,
			MinVersion:         tls.VersionTLS12,
		},
	}
	return td.DialContext(ctx, "tcp", addr)
}

func target(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
