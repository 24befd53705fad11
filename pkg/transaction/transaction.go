// Package transaction implements the state shared by every HTTP exchange: one
// request/response pair, its read/write phase, flow control and outcome.
//
// A Transaction performs no I/O and holds no locks. A single driver goroutine
// feeds it bytes through an Exchange variant and consults IsWriting,
// IsFinished, Error and Success to run its own loop.
package transaction

import (
	"github.com/txwire/pkg/protocol"
)

// Transaction holds the state common to all exchange variants.
type Transaction struct {
	// KeptAlive reports that the connection was reused from an earlier
	// transaction.
	KeptAlive bool

	LocalAddress string
	LocalPort    int
	RemotePort   int

	req      *protocol.Request
	res      *protocol.Response
	conn     string
	state    State
	kind     Kind
	previous *Transaction

	reverseProxy     bool
	peerAddress      string
	remoteAddress    string
	remoteAddressSet bool
	forwardedFor     string

	listeners map[Event][]Listener
}

// Option configures a Transaction at construction.
type Option func(*Transaction)

// WithRequest sets the request.
func WithRequest(req *protocol.Request) Option {
	return func(t *Transaction) { t.req = req }
}

// WithResponse sets the response.
func WithResponse(res *protocol.Response) Option {
	return func(t *Transaction) { t.res = res }
}

// WithReverseProxy makes RemoteAddress trust X-Forwarded-For.
func WithReverseProxy(enabled bool) Option {
	return func(t *Transaction) { t.reverseProxy = enabled }
}

// WithPrevious links the transaction that this one follows, such as the
// handshake of an upgraded connection.
func WithPrevious(prev *Transaction) Option {
	return func(t *Transaction) { t.previous = prev }
}

// WithKind sets the variant kind.
func WithKind(k Kind) Option {
	return func(t *Transaction) { t.kind = k }
}

// New creates a transaction.
func New(opts ...Option) *Transaction {
	t := &Transaction{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tx returns t itself so that variants embedding *Transaction satisfy
// Exchange.
func (t *Transaction) Tx() *Transaction { return t }

// Req returns the request, creating an empty one on first use.
func (t *Transaction) Req() *protocol.Request {
	if t.req == nil {
		t.req = protocol.NewRequest("", "")
	}
	return t.req
}

// SetReq replaces the request.
func (t *Transaction) SetReq(req *protocol.Request) { t.req = req }

// Res returns the response, creating an empty one on first use.
func (t *Transaction) Res() *protocol.Response {
	if t.res == nil {
		t.res = protocol.NewResponse()
	}
	return t.res
}

// SetRes replaces the response.
func (t *Transaction) SetRes(res *protocol.Response) { t.res = res }

// Connection returns the connection id.
func (t *Transaction) Connection() string { return t.conn }

// SetConnection stores the connection id and emits EventConnection.
func (t *Transaction) SetConnection(id string) {
	t.conn = id
	t.Emit(EventConnection, id)
}

// State returns the current phase.
func (t *Transaction) State() State { return t.state }

// SetState moves the transaction to s. Variants drive the write phases
// through it.
func (t *Transaction) SetState(s State) { t.state = s }

// Previous returns the transaction this one follows, or nil.
func (t *Transaction) Previous() *Transaction { return t.previous }

// Kind returns the variant kind.
func (t *Transaction) Kind() Kind { return t.kind }

// IsFinished reports whether the transaction reached its terminal state.
func (t *Transaction) IsFinished() bool { return t.state == StateFinished }

// IsWriting reports whether the transaction has bytes to produce. An unset
// state counts as about to write.
func (t *Transaction) IsWriting() bool { return t.state.Writing() }

// IsWebSocket reports whether this is an upgraded WebSocket transaction.
func (t *Transaction) IsWebSocket() bool { return t.kind == KindWebSocket }

// Resume restarts writing after backpressure. A paused transaction continues
// with its body; one that is not writing starts over from the top. Every
// call emits EventResume.
func (t *Transaction) Resume() {
	if t.state == StatePaused {
		t.state = StateWriteBody
	} else if !t.IsWriting() {
		t.state = StateWrite
	}
	t.Emit(EventResume, nil)
}

// ClientClose marks the response complete and closes the transaction.
func (t *Transaction) ClientClose() {
	t.Res().Finish()
	t.ServerClose()
}

// ServerClose finishes the transaction and emits EventFinish. Calling it again
// emits EventFinish again.
func (t *Transaction) ServerClose() {
	t.state = StateFinished
	t.Emit(EventFinish, nil)
}

// Error returns the request's parser error, or else the response error, or
// nil. Request errors win because a malformed request makes any response
// meaningless.
func (t *Transaction) Error() *protocol.Error {
	if err := t.Req().Error(); err != nil {
		return err
	}
	return t.Res().Error()
}

// Success returns the response when the transaction has no error, nil
// otherwise.
func (t *Transaction) Success() *protocol.Response {
	if t.Error() != nil {
		return nil
	}
	return t.Res()
}

// Outcome classifies the result of the transaction.
func (t *Transaction) Outcome() Outcome {
	if t.Req().Error() != nil {
		return OutcomeParseError
	}
	err := t.Res().Error()
	switch {
	case err == nil:
		return OutcomeSuccess
	case err.Code == 0:
		return OutcomeConnectionError
	}
	return OutcomeStatusError
}
