// Package echo is the demo service behind "txwire serve". It reflects what
// the server saw of each transaction, including the resolved remote address.
package echo

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transaction/http1"
	"github.com/txwire/pkg/transaction/websocket"
)

const (
	maxStreamChunks  = 1000
	maxStreamPause   = 5 * time.Second
	defaultChunks    = 5
	defaultChunkWait = 100 * time.Millisecond
)

// Stats tracks request statistics.
type Stats struct {
	TotalRequests     atomic.Int64
	Errors            atomic.Int64
	StreamedResponses atomic.Int64
	WebSocketMessages atomic.Int64
}

// Service answers /, /health, /echo, /stream and /stats, and echoes
// WebSocket messages back to their sender.
type Service struct {
	stats   Stats
	started time.Time
	logger  *zap.Logger
}

// NewService creates the echo service.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{started: time.Now(), logger: logger}
}

// Stats returns the live counters.
func (s *Service) Stats() *Stats { return &s.stats }

// ServeTransaction implements transport.Handler.
func (s *Service) ServeTransaction(ex *http1.Exchange) {
	s.stats.TotalRequests.Add(1)

	u, err := url.ParseRequestURI(ex.Req().URL)
	if err != nil {
		s.fail(ex, http.StatusBadRequest, "invalid request target")
		return
	}

	switch {
	case u.Path == "/":
		s.json(ex, http.StatusOK, map[string]any{
			"service": "txwire-echo",
			"status":  "running",
		})
	case u.Path == "/health":
		s.json(ex, http.StatusOK, map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(s.started).String(),
		})
	case u.Path == "/echo" || strings.HasPrefix(u.Path, "/echo/"):
		s.echo(ex, u)
	case u.Path == "/stream":
		s.stream(ex, u)
	case u.Path == "/stats":
		s.statsReport(ex)
	default:
		s.fail(ex, http.StatusNotFound, "not found")
	}
}

func (s *Service) echo(ex *http1.Exchange, u *url.URL) {
	req := ex.Req()
	s.json(ex, http.StatusOK, map[string]any{
		"method":         req.Method,
		"path":           u.Path,
		"query":          u.Query(),
		"headers":        req.Header,
		"body":           req.Body().String(),
		"remote_address": ex.RemoteAddress(),
		"peer_address":   ex.PeerAddress(),
		"connection":     ex.Connection(),
		"kept_alive":     ex.KeptAlive,
		"request_id":     uuid.NewString(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// stream sends n lines, one every interval, from a separate goroutine. The
// transaction pauses between lines.
func (s *Service) stream(ex *http1.Exchange, u *url.URL) {
	q := u.Query()
	n := defaultChunks
	if v := q.Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 || parsed > maxStreamChunks {
			s.fail(ex, http.StatusBadRequest, "n must be between 0 and 1000")
			return
		}
		n = parsed
	}
	wait := defaultChunkWait
	if v := q.Get("interval"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || parsed > maxStreamPause {
			s.fail(ex, http.StatusBadRequest, "interval must be a duration up to 5s")
			return
		}
		wait = parsed
	}

	s.stats.StreamedResponses.Add(1)
	body := protocol.NewContent()
	ex.Res().Header.Set("Content-Type", "text/plain; charset=utf-8")
	ex.Res().SetBody(body)

	go func() {
		defer body.Close()
		for i := 1; i <= n; i++ {
			if i > 1 {
				time.Sleep(wait)
			}
			if _, err := body.WriteString("chunk " + strconv.Itoa(i) + "\n"); err != nil {
				return
			}
		}
	}()
}

func (s *Service) statsReport(ex *http1.Exchange) {
	uptime := time.Since(s.started)
	total := s.stats.TotalRequests.Load()
	s.json(ex, http.StatusOK, map[string]any{
		"uptime":             uptime.String(),
		"total_requests":     total,
		"errors":             s.stats.Errors.Load(),
		"streamed_responses": s.stats.StreamedResponses.Load(),
		"websocket_messages": s.stats.WebSocketMessages.Load(),
		"requests_per_sec":   strconv.FormatFloat(float64(total)/uptime.Seconds(), 'f', 2, 64),
	})
}

// ServeWebSocket echoes every message with the same opcode.
func (s *Service) ServeWebSocket(ws *websocket.Exchange) {
	s.logger.Debug("websocket accepted",
		zap.String("conn", ws.Connection()),
		zap.String("remote", ws.RemoteAddress()),
	)
	ws.OnMessage(func(m websocket.Message) {
		s.stats.WebSocketMessages.Add(1)
		if err := ws.Send(m.Op, m.Data); err != nil {
			s.logger.Debug("websocket echo dropped", zap.Error(err))
		}
	})
}

func (s *Service) fail(ex *http1.Exchange, code int, msg string) {
	s.stats.Errors.Add(1)
	s.json(ex, code, map[string]string{"error": msg})
}

func (s *Service) json(ex *http1.Exchange, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", zap.Error(err))
		code = http.StatusInternalServerError
		data = []byte(`{"error":"internal error"}`)
	}
	res := ex.Res()
	res.StatusCode = code
	res.Header.Set("Content-Type", "application/json")
	res.SetBody(protocol.StaticContent(data))
}
