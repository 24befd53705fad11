package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transaction"
	"github.com/txwire/pkg/transaction/http1"
	"github.com/txwire/pkg/transaction/websocket"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("transport: server closed")

// Handler answers a request. It runs on the connection's goroutine right
// after the request was read and must not block; streaming bodies are filled
// from other goroutines through protocol.Content.
type Handler interface {
	ServeTransaction(ex *http1.Exchange)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ex *http1.Exchange)

func (f HandlerFunc) ServeTransaction(ex *http1.Exchange) { f(ex) }

// WebSocketHandler is called for every accepted upgrade, before any frame is
// read. It registers listeners and may start goroutines that send.
type WebSocketHandler func(ws *websocket.Exchange)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Address            string
	ReverseProxy       bool
	InactivityTimeout  time.Duration
	IdleTimeout        time.Duration
	MaxRequestsPerConn int
	Limits             protocol.Limits
	MaxMessageSize     int
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:           ":8080",
		InactivityTimeout: 30 * time.Second,
		IdleTimeout:       60 * time.Second,
		Limits:            protocol.DefaultLimits(),
		MaxMessageSize:    websocket.DefaultMaxMessage,
	}
}

// Server accepts HTTP/1.1 connections and runs server transactions on them.
type Server struct {
	cfg       ServerConfig
	handler   Handler
	wsHandler WebSocketHandler
	options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[*serverConn]struct{}
	wg       sync.WaitGroup
	closing  atomic.Bool
}

type serverConn struct {
	*conn
	id string

	mu   sync.Mutex
	idle bool
	ws   *websocket.Exchange
}

// NewServer creates a server. A nil handler answers every request with 404.
func NewServer(cfg ServerConfig, handler Handler, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		options: newOptions(opts),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[*serverConn]struct{}),
	}
}

// HandleWebSocket enables upgrades to WebSocket.
func (s *Server) HandleWebSocket(fn WebSocketHandler) { s.wsHandler = fn }

// ListenAndServe listens on the configured address and serves until
// Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("server listening", zap.String("address", ln.Addr().String()))

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		sc := &serverConn{conn: newConn(nc), id: uuid.NewString()}
		if !s.track(sc) {
			sc.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(sc)
			s.serveConn(sc)
		}()
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, closes idle connections, asks WebSocket peers to
// go away and waits for running transactions. When ctx expires first, the
// remaining connections are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for sc := range s.conns {
		sc.mu.Lock()
		switch {
		case sc.idle:
			sc.Close()
		case sc.ws != nil:
			_ = sc.ws.Close(websocket.CloseGoingAway, "server shutting down")
		}
		sc.mu.Unlock()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		s.mu.Lock()
		for sc := range s.conns {
			sc.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *Server) track(sc *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[sc] = struct{}{}
	return true
}

func (s *Server) untrack(sc *serverConn) {
	sc.Close()
	s.mu.Lock()
	delete(s.conns, sc)
	s.mu.Unlock()
}

func (s *Server) driver(timeout time.Duration) driver {
	return driver{role: RoleServer, timeout: timeout, observer: s.observer}
}

// serveConn runs the keep-alive loop of one connection.
func (s *Server) serveConn(sc *serverConn) {
	log := s.logger.With(zap.String("conn", sc.id), zap.Stringer("peer", sc.RemoteAddr()))
	log.Debug("connection opened")
	defer log.Debug("connection closed")

	var leftover []byte
	for n := 0; ; n++ {
		if s.cfg.MaxRequestsPerConn > 0 && n >= s.cfg.MaxRequestsPerConn {
			return
		}

		first := leftover
		if len(first) == 0 {
			var ok bool
			if first, ok = s.awaitRequest(sc); !ok {
				return
			}
			s.observer.BytesTransferred(RoleServer, DirectionIn, len(first))
		}

		ex := http1.NewServer(transaction.WithReverseProxy(s.cfg.ReverseProxy))
		ex.SetLimits(s.cfg.Limits)
		tx := ex.Tx()
		tx.KeptAlive = n > 0
		annotate(tx, sc.Conn, sc.id)
		ex.On(transaction.EventRequest, func(*transaction.Transaction, any) {
			s.dispatch(ex, log)
		})

		start := time.Now()
		s.observer.TransactionStarted(RoleServer, tx)
		if err := ex.ServerRead(first); err != nil {
			log.Error("read request", zap.Error(err))
			return
		}
		err := s.driver(s.cfg.InactivityTimeout).run(s.ctx, sc.conn, ex)
		elapsed := time.Since(start)
		s.observer.TransactionFinished(RoleServer, tx, elapsed)

		log.Debug("transaction finished",
			zap.String("method", tx.Req().Method),
			zap.String("url", tx.Req().URL),
			zap.String("remote", tx.RemoteAddress()),
			zap.Int("status", tx.Res().StatusCode),
			zap.String("outcome", string(tx.Outcome())),
			zap.Bool("kept_alive", tx.KeptAlive),
			zap.Duration("elapsed", elapsed),
		)
		if err != nil {
			return
		}

		if ws, ok := ex.Upgrade().(*websocket.Exchange); ok {
			s.serveWebSocket(sc, ws, ex.Leftover(), log)
			return
		}
		if !ex.KeepAlive() || s.closing.Load() {
			return
		}
		leftover = ex.Leftover()
	}
}

// awaitRequest waits for the first bytes of the next request. The connection
// counts as idle meanwhile, so Shutdown may close it.
func (s *Server) awaitRequest(sc *serverConn) ([]byte, bool) {
	sc.mu.Lock()
	sc.idle = true
	sc.mu.Unlock()
	defer func() {
		sc.mu.Lock()
		sc.idle = false
		sc.mu.Unlock()
	}()

	if s.closing.Load() {
		return nil, false
	}

	var timeout <-chan time.Time
	if s.cfg.IdleTimeout > 0 {
		t := time.NewTimer(s.cfg.IdleTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case r := <-sc.reads:
		// A read error with data comes back again on the next read.
		return r.data, len(r.data) > 0
	case <-timeout:
		return nil, false
	case <-sc.done:
		return nil, false
	case <-s.ctx.Done():
		return nil, false
	}
}

// dispatch routes a freshly read request. It runs inside EventRequest.
func (s *Server) dispatch(ex *http1.Exchange, log *zap.Logger) {
	if ex.Error() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic", zap.Any("panic", r), zap.String("url", ex.Req().URL))
			res := protocol.NewResponse()
			res.StatusCode = http.StatusInternalServerError
			res.Header.Set("Connection", "close")
			ex.SetRes(res)
		}
	}()

	if s.wsHandler != nil && websocket.IsUpgrade(ex.Req()) {
		ws, err := websocket.Accept(ex, websocket.WithMaxMessageSize(s.cfg.MaxMessageSize))
		if err != nil {
			res := ex.Res()
			res.StatusCode = http.StatusBadRequest
			res.SetBody(protocol.StaticContent([]byte(err.Error())))
			return
		}
		s.wsHandler(ws)
		return
	}

	if s.handler == nil {
		ex.Res().StatusCode = http.StatusNotFound
		return
	}
	s.handler.ServeTransaction(ex)
}

func (s *Server) serveWebSocket(sc *serverConn, ws *websocket.Exchange, leftover []byte, log *zap.Logger) {
	sc.mu.Lock()
	sc.ws = ws
	sc.mu.Unlock()

	ws.OnMessage(func(m websocket.Message) {
		s.observer.WebSocketMessage(RoleServer, m.Op.String())
	})

	start := time.Now()
	s.observer.TransactionStarted(RoleServer, ws.Tx())
	if s.closing.Load() {
		_ = ws.Close(websocket.CloseGoingAway, "server shutting down")
	}
	if len(leftover) > 0 {
		_ = ws.ServerRead(leftover)
	}
	err := s.driver(0).run(s.ctx, sc.conn, ws)
	s.observer.TransactionFinished(RoleServer, ws.Tx(), time.Since(start))

	log.Debug("websocket closed",
		zap.Int("close_code", ws.CloseCode()),
		zap.String("outcome", string(ws.Outcome())),
		zap.Error(err),
	)
}
