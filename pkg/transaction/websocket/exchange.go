// Package websocket implements the transaction variant that takes over a
// connection after an HTTP/1.1 upgrade handshake.
package websocket

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gobwas/ws"

	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transaction"
	"github.com/txwire/pkg/transaction/http1"
)

// Close status codes from RFC 6455 section 7.4.1.
const (
	CloseNormal        = int(ws.StatusNormalClosure)
	CloseGoingAway     = int(ws.StatusGoingAway)
	CloseProtocolError = int(ws.StatusProtocolError)
	CloseNoStatus      = int(ws.StatusNoStatusRcvd)
	CloseAbnormal      = int(ws.StatusAbnormalClosure)
	CloseMessageTooBig = int(ws.StatusMessageTooBig)
)

// DefaultMaxMessage is the incoming message limit when none is configured.
const DefaultMaxMessage = 256 * 1024

const closedAbnormallyMsg = "Connection closed abnormally"

// Message is a complete data message, reassembled from its fragments.
type Message struct {
	Op   Opcode
	Data []byte
}

// Text returns the payload as a string.
func (m Message) Text() string { return string(m.Data) }

// Option configures an Exchange.
type Option func(*Exchange)

// WithMaxMessageSize bounds incoming frames and reassembled messages. Zero
// disables the limit.
func WithMaxMessageSize(n int) Option {
	return func(e *Exchange) { e.maxSize = n }
}

// Exchange is a WebSocket transaction. It stays paused while there is
// nothing queued and finishes once close frames went both ways.
//
// Send, SendText and Close may be called from any goroutine; everything else
// belongs to the driver.
type Exchange struct {
	*transaction.Transaction

	masked  bool
	maxSize int
	in      []byte

	fragOp      Opcode
	frag        []byte
	fragmenting bool

	mu            sync.Mutex
	queue         []byte
	ready         chan struct{}
	closeSent     bool
	closeReceived bool
	closeCode     int
}

var _ transaction.Exchange = (*Exchange)(nil)

func newExchange(hs *http1.Exchange, masked bool, opts []Option) *Exchange {
	prev := hs.Tx()

	res := protocol.NewResponse()
	res.StatusCode = http.StatusSwitchingProtocols

	tx := transaction.New(
		transaction.WithKind(transaction.KindWebSocket),
		transaction.WithPrevious(prev),
		transaction.WithRequest(prev.Req()),
		transaction.WithResponse(res),
		transaction.WithReverseProxy(prev.ReverseProxy()),
	)
	tx.KeptAlive = prev.KeptAlive
	tx.LocalAddress = prev.LocalAddress
	tx.LocalPort = prev.LocalPort
	tx.RemotePort = prev.RemotePort
	tx.SetPeerAddress(prev.PeerAddress())
	tx.SetRemoteAddress(prev.RemoteAddress())
	tx.SetConnection(prev.Connection())
	tx.SetState(transaction.StatePaused)

	e := &Exchange{
		Transaction: tx,
		masked:      masked,
		maxSize:     DefaultMaxMessage,
		ready:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ready fires when frames are queued for sending.
func (e *Exchange) Ready() <-chan struct{} { return e.ready }

// OnMessage registers fn for every complete incoming message.
func (e *Exchange) OnMessage(fn func(Message)) {
	e.On(transaction.EventMessage, func(_ *transaction.Transaction, payload any) {
		if m, ok := payload.(Message); ok {
			fn(m)
		}
	})
}

// Send queues a message. It fails with ErrClosed once a close frame has been
// queued.
func (e *Exchange) Send(op Opcode, data []byte) error {
	e.mu.Lock()
	if e.closeSent {
		e.mu.Unlock()
		return ErrClosed
	}
	e.queue = AppendFrame(e.queue, Frame{Fin: true, Op: op, Payload: data}, e.masked)
	e.mu.Unlock()

	e.notify()
	return nil
}

// SendText queues a text message.
func (e *Exchange) SendText(s string) error {
	return e.Send(OpText, []byte(s))
}

// Close starts the closing handshake. Later calls do nothing.
func (e *Exchange) Close(code int, reason string) error {
	e.mu.Lock()
	if e.closeSent {
		e.mu.Unlock()
		return nil
	}
	e.closeSent = true
	e.queue = AppendFrame(e.queue, closeFrame(code, reason), e.masked)
	e.mu.Unlock()

	e.notify()
	return nil
}

// CloseCode returns the status code of the received close frame, or zero.
func (e *Exchange) CloseCode() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeCode
}

// ClientRead consumes frames sent by the server.
func (e *Exchange) ClientRead(chunk []byte) error { return e.read(chunk) }

// ServerRead consumes frames sent by the client.
func (e *Exchange) ServerRead(chunk []byte) error { return e.read(chunk) }

// ClientWrite drains the send queue.
func (e *Exchange) ClientWrite() ([]byte, error) { return e.write(), nil }

// ServerWrite drains the send queue.
func (e *Exchange) ServerWrite() ([]byte, error) { return e.write(), nil }

// ClientClose finishes the transaction when the connection ends. Without a
// prior close frame the closure is recorded as abnormal.
func (e *Exchange) ClientClose() {
	e.abort()
	e.Transaction.ClientClose()
}

// ServerClose finishes the transaction when the connection ends.
func (e *Exchange) ServerClose() {
	e.abort()
	e.Transaction.ServerClose()
}

func (e *Exchange) abort() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closeSent = true
	if e.closeReceived {
		return
	}
	e.closeReceived = true
	e.closeCode = CloseAbnormal
	if e.Res().Error() == nil {
		e.Res().SetError(closedAbnormallyMsg, 0)
	}
}

func (e *Exchange) write() []byte {
	if !e.IsWriting() {
		return nil
	}

	e.mu.Lock()
	out := e.queue
	e.queue = nil
	done := e.closeSent && e.closeReceived
	e.mu.Unlock()

	if done {
		e.Transaction.ServerClose()
	} else {
		e.SetState(transaction.StatePaused)
	}
	return out
}

func (e *Exchange) read(chunk []byte) error {
	e.in = append(e.in, chunk...)
	for len(e.in) > 0 && !e.IsFinished() && !e.receivedClose() {
		f, n, err := parseFrame(e.in, e.maxSize, e.checkHeader)
		if errors.Is(err, protocol.ErrIncomplete) {
			return nil
		}
		if err != nil {
			e.fail(err)
			return nil
		}
		e.in = e.in[n:]
		e.handle(f)
	}
	return nil
}

func (e *Exchange) handle(f Frame) {
	switch f.Op {
	case OpPing:
		e.enqueue(Frame{Fin: true, Op: OpPong, Payload: f.Payload})
	case OpPong:
	case OpClose:
		e.receiveClose(f.Payload)
	case OpText, OpBinary:
		if f.Fin {
			e.Emit(transaction.EventMessage, Message{Op: f.Op, Data: f.Payload})
			return
		}
		e.fragmenting = true
		e.fragOp = f.Op
		e.frag = f.Payload
	case OpContinuation:
		e.frag = append(e.frag, f.Payload...)
		if e.maxSize > 0 && len(e.frag) > e.maxSize {
			e.fail(ErrFrameTooLarge)
			return
		}
		if f.Fin {
			m := Message{Op: e.fragOp, Data: e.frag}
			e.fragmenting = false
			e.frag = nil
			e.Emit(transaction.EventMessage, m)
		}
	}
}

// checkHeader applies the RFC 6455 rules for this side of the connection,
// including masking and the continuation sequence.
func (e *Exchange) checkHeader(h ws.Header) error {
	st := ws.StateServerSide
	if e.masked {
		st = ws.StateClientSide
	}
	if e.fragmenting {
		st |= ws.StateFragmented
	}
	return ws.CheckHeader(h, st)
}

func (e *Exchange) receiveClose(payload []byte) {
	code := CloseNoStatus
	if c, _ := ws.ParseCloseFrameData(payload); c != 0 {
		code = int(c)
	}

	e.mu.Lock()
	e.closeReceived = true
	e.closeCode = code
	if !e.closeSent {
		e.closeSent = true
		echo := code
		if echo == CloseNoStatus {
			echo = CloseNormal
		}
		e.queue = AppendFrame(e.queue, closeFrame(echo, ""), e.masked)
	}
	e.mu.Unlock()

	e.notify()
}

// fail records a protocol violation and answers it with a close frame.
func (e *Exchange) fail(err error) {
	code := CloseProtocolError
	if errors.Is(err, ErrFrameTooLarge) {
		code = CloseMessageTooBig
	}
	if e.Res().Error() == nil {
		e.Res().SetError(err.Error(), 0)
	}
	e.in = nil
	e.frag = nil
	e.fragmenting = false

	e.mu.Lock()
	e.closeReceived = true
	e.closeCode = code
	if !e.closeSent {
		e.closeSent = true
		e.queue = AppendFrame(e.queue, closeFrame(code, ""), e.masked)
	}
	e.mu.Unlock()

	e.notify()
}

func (e *Exchange) enqueue(f Frame) {
	e.mu.Lock()
	if e.closeSent {
		e.mu.Unlock()
		return
	}
	e.queue = AppendFrame(e.queue, f, e.masked)
	e.mu.Unlock()

	e.notify()
}

func (e *Exchange) receivedClose() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeReceived
}

func (e *Exchange) notify() {
	select {
	case e.ready <- struct{}{}:
	default:
	}
}

func closeFrame(code int, reason string) Frame {
	return Frame{Fin: true, Op: OpClose, Payload: ws.NewCloseFrameBody(ws.StatusCode(code), reason)}
}
