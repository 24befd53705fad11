package transport

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transaction"
	"github.com/txwire/pkg/transaction/websocket"
)

const sessionBuffer = 64

// WebSocketSession is a client WebSocket connection driven in the background.
type WebSocketSession struct {
	ws       *websocket.Exchange
	cn       *conn
	messages chan websocket.Message
	done     chan struct{}
	cancel   context.CancelFunc

	closing   chan struct{}
	closeOnce sync.Once
}

func startSession(cn *conn, ws *websocket.Exchange, leftover []byte, d driver, logger *zap.Logger) *WebSocketSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &WebSocketSession{
		ws:       ws,
		cn:       cn,
		messages: make(chan websocket.Message, sessionBuffer),
		done:     make(chan struct{}),
		cancel:   cancel,
		closing:  make(chan struct{}),
	}
	ws.OnMessage(func(m websocket.Message) {
		d.observer.WebSocketMessage(d.role, m.Op.String())
		select {
		case s.messages <- m:
		case <-s.closing:
		}
	})

	go func() {
		defer close(s.done)
		defer close(s.messages)
		defer cn.Close()

		if len(leftover) > 0 {
			_ = ws.ClientRead(leftover)
		}
		err := d.run(ctx, cn, ws)
		logger.Debug("websocket session ended",
			zap.String("conn", ws.Connection()),
			zap.Int("close_code", ws.CloseCode()),
			zap.Error(err),
		)
	}()
	return s
}

// Send queues a message.
func (s *WebSocketSession) Send(op websocket.Opcode, data []byte) error {
	return s.ws.Send(op, data)
}

// SendText queues a text message.
func (s *WebSocketSession) SendText(text string) error {
	return s.ws.SendText(text)
}

// Messages delivers incoming messages. It is closed when the session ends.
// A reader that stops draining it stalls the session until Close.
func (s *WebSocketSession) Messages() <-chan websocket.Message { return s.messages }

// CloseCode returns the status code of the peer's close frame, or zero.
func (s *WebSocketSession) CloseCode() int { return s.ws.CloseCode() }

// Done is closed once the connection is gone.
func (s *WebSocketSession) Done() <-chan struct{} { return s.done }

// Tx returns the WebSocket transaction.
func (s *WebSocketSession) Tx() *transaction.Transaction { return s.ws.Tx() }

// Error returns the recorded failure, if any. Valid after Done.
func (s *WebSocketSession) Error() *protocol.Error { return s.ws.Error() }

// Close runs the closing handshake and waits for the server to finish it.
// When ctx expires first the connection is dropped.
func (s *WebSocketSession) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	if err := s.ws.Close(websocket.CloseNormal, ""); err != nil {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.done
		return ctx.Err()
	}
}
