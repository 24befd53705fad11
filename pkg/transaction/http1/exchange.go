// Package http1 implements plain HTTP/1.1 transactions on top of the
// transaction core.
package http1

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transaction"
)

const userAgent = "txwire"

// Exchange is an HTTP/1.1 transaction usable in either role.
type Exchange struct {
	*transaction.Transaction

	server bool
	limits protocol.Limits

	in       []byte
	leftover []byte

	offset  int
	chunked bool
	noBody  bool

	requestRead bool
	gotResponse bool
	closeAfter  bool

	upgrade transaction.Exchange
}

// NewClient creates an exchange that sends the request and reads the
// response.
func NewClient(opts ...transaction.Option) *Exchange {
	return &Exchange{
		Transaction: transaction.New(opts...),
		limits:      protocol.DefaultLimits(),
	}
}

// NewServer creates an exchange that reads a request and writes the
// response. It starts in the read state.
func NewServer(opts ...transaction.Option) *Exchange {
	e := &Exchange{
		Transaction: transaction.New(opts...),
		server:      true,
		limits:      protocol.DefaultLimits(),
	}
	e.SetState(transaction.StateRead)
	return e
}

// SetLimits replaces the incoming message limits.
func (e *Exchange) SetLimits(l protocol.Limits) { e.limits = l }

// IsServer reports the role of the exchange.
func (e *Exchange) IsServer() bool { return e.server }

// Leftover returns bytes received after the end of the message, such as a
// pipelined request or the first frames of an upgraded protocol.
func (e *Exchange) Leftover() []byte { return e.leftover }

// Upgrade returns the exchange that takes over the connection, if any.
func (e *Exchange) Upgrade() transaction.Exchange { return e.upgrade }

// SetUpgrade hands the connection to ex once this exchange finishes and
// emits EventUpgrade.
func (e *Exchange) SetUpgrade(ex transaction.Exchange) {
	e.upgrade = ex
	e.Emit(transaction.EventUpgrade, ex)
}

// Ready fires when the outgoing body gains data.
func (e *Exchange) Ready() <-chan struct{} {
	if e.server {
		return e.Res().Body().Ready()
	}
	return e.Req().Body().Ready()
}

// KeepAlive reports whether the connection can carry another transaction.
func (e *Exchange) KeepAlive() bool {
	req, res := e.Req(), e.Res()
	switch {
	case e.closeAfter, e.upgrade != nil, req.Error() != nil:
		return false
	case protocol.HasToken(req.Header, "Connection", "close"),
		protocol.HasToken(res.Header, "Connection", "close"):
		return false
	case req.Proto == "HTTP/1.0":
		return protocol.HasToken(req.Header, "Connection", "keep-alive")
	}
	return true
}

// ClientWrite returns the next part of the request.
func (e *Exchange) ClientWrite() ([]byte, error) { return e.write() }

// ServerWrite returns the next part of the response.
func (e *Exchange) ServerWrite() ([]byte, error) { return e.write() }

// ClientRead consumes response bytes.
func (e *Exchange) ClientRead(chunk []byte) error {
	if e.gotResponse {
		e.leftover = append(e.leftover, chunk...)
		return nil
	}
	e.in = append(e.in, chunk...)
	e.parseResponse(false)
	return nil
}

// ClientClose completes a response delimited by connection close, records a
// premature close if no response arrived, and closes the transaction.
func (e *Exchange) ClientClose() {
	if !e.gotResponse {
		e.parseResponse(true)
		if e.IsFinished() {
			return
		}
	}
	if !e.gotResponse && e.Res().Error() == nil {
		e.Res().SetError("Premature connection close", 0)
	}
	e.Transaction.ClientClose()
}

// ServerRead consumes request bytes. Once the request is complete it emits
// EventRequest and the exchange starts writing the response.
func (e *Exchange) ServerRead(chunk []byte) error {
	if e.requestRead {
		e.leftover = append(e.leftover, chunk...)
		return nil
	}
	e.in = append(e.in, chunk...)

	req, n, err := protocol.ParseRequest(e.in, e.limits)
	if errors.Is(err, protocol.ErrIncomplete) {
		return nil
	}
	e.requestRead = true

	if err != nil {
		e.rejectRequest(err)
	} else {
		e.SetReq(req)
		e.leftover = append(e.leftover, e.in[n:]...)
		req.Finish()
	}
	e.in = nil

	e.SetState(transaction.StateWrite)
	e.Emit(transaction.EventRequest, e)
	return nil
}

func (e *Exchange) rejectRequest(err error) {
	msg, code := err.Error(), http.StatusBadRequest
	var perr *protocol.Error
	if errors.As(err, &perr) {
		msg = perr.Message
		if perr.Code > 0 {
			code = perr.Code
		}
	}
	e.Req().SetError(msg, code)

	res := e.Res()
	res.StatusCode = code
	res.Header.Set("Connection", "close")
	res.SetBody(protocol.StaticContent([]byte(msg)))
	e.closeAfter = true
}

func (e *Exchange) parseResponse(atEOF bool) {
	for {
		res, n, err := protocol.ParseResponse(e.in, e.Req().Method, atEOF, e.limits)
		if errors.Is(err, protocol.ErrIncomplete) {
			return
		}
		if err != nil {
			msg := err.Error()
			var perr *protocol.Error
			if errors.As(err, &perr) {
				msg = perr.Message
			}
			e.in = nil
			e.gotResponse = true
			if e.Res().Error() == nil {
				e.Res().SetError(msg, 0)
			}
			e.Transaction.ClientClose()
			return
		}

		e.in = e.in[n:]
		if res.StatusCode >= 100 && res.StatusCode < 200 && res.StatusCode != http.StatusSwitchingProtocols {
			continue
		}

		e.gotResponse = true
		e.leftover = append(e.leftover, e.in...)
		e.in = nil
		e.SetRes(res)
		e.Transaction.ClientClose()
		return
	}
}

func (e *Exchange) write() ([]byte, error) {
	switch e.State() {
	case transaction.StateUnset, transaction.StateWrite:
		e.prepare()
		e.SetState(transaction.StateWriteStartLine)
	case transaction.StateWriteStartLine, transaction.StateWriteHeaders, transaction.StateWriteBody:
	default:
		return nil, nil
	}

	var out []byte
	if e.State() == transaction.StateWriteStartLine {
		if e.server {
			out = protocol.AppendStatusLine(out, e.Res())
		} else {
			out = protocol.AppendRequestLine(out, e.Req())
		}
		e.SetState(transaction.StateWriteHeaders)
	}

	if e.State() == transaction.StateWriteHeaders {
		var err error
		if out, err = protocol.AppendHeaders(out, e.outgoingHeader()); err != nil {
			return nil, err
		}
		e.SetState(transaction.StateWriteBody)
	}

	if e.State() == transaction.StateWriteBody {
		out = e.writeBody(out)
	}
	return out, nil
}

func (e *Exchange) outgoingHeader() http.Header {
	if e.server {
		return e.Res().Header
	}
	return e.Req().Header
}

func (e *Exchange) outgoingBody() *protocol.Content {
	if e.server {
		return e.Res().Body()
	}
	return e.Req().Body()
}

// prepare fills in framing headers before the start line is written.
func (e *Exchange) prepare() {
	e.offset = 0
	e.chunked = false
	e.noBody = false

	header := e.outgoingHeader()
	body := e.outgoingBody()
	proto := e.Req().Proto

	if e.server {
		res := e.Res()
		if res.Header == nil {
			res.Header = make(http.Header)
			header = res.Header
		}
		if res.StatusCode == 0 {
			res.StatusCode = http.StatusOK
		}
		if res.Proto == "" || proto == "HTTP/1.0" {
			res.Proto = protoOr(proto)
		}
		if header.Get("Date") == "" {
			header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
		}
		code := res.StatusCode
		e.noBody = e.Req().Method == http.MethodHead || code < 200 ||
			code == http.StatusNoContent || code == http.StatusNotModified
		if code < 200 || code == http.StatusNoContent {
			return
		}
	} else {
		req := e.Req()
		if req.Header == nil {
			req.Header = make(http.Header)
			header = req.Header
		}
		if header.Get("Host") == "" {
			if host := hostOf(req.URL); host != "" {
				header.Set("Host", host)
			}
		}
		if header.Get("User-Agent") == "" {
			header.Set("User-Agent", userAgent)
		}
	}

	switch {
	case header.Get("Content-Length") != "":
	case body.Closed():
		if n := body.Len(); n > 0 || e.server {
			header.Set("Content-Length", strconv.Itoa(n))
		}
	case proto == "HTTP/1.0":
		// No chunked coding; the body ends when the connection closes.
		header.Set("Connection", "close")
		e.closeAfter = true
	default:
		header.Set("Transfer-Encoding", "chunked")
		e.chunked = true
	}
}

func (e *Exchange) writeBody(out []byte) []byte {
	if e.noBody {
		e.finishWrite()
		return out
	}

	chunk, done := e.outgoingBody().Chunk(e.offset)
	e.offset += len(chunk)

	if e.chunked {
		if len(chunk) > 0 {
			out = strconv.AppendInt(out, int64(len(chunk)), 16)
			out = append(out, "\r\n"...)
			out = append(out, chunk...)
			out = append(out, "\r\n"...)
		}
		if done {
			out = append(out, "0\r\n\r\n"...)
		}
	} else {
		out = append(out, chunk...)
	}

	switch {
	case done:
		e.finishWrite()
	case len(chunk) == 0:
		e.SetState(transaction.StatePaused)
	}
	return out
}

func (e *Exchange) finishWrite() {
	if e.server {
		e.ServerClose()
		return
	}
	e.Req().Finish()
	if e.gotResponse {
		return
	}
	e.SetState(transaction.StateRead)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func protoOr(proto string) string {
	if proto == "" {
		return "HTTP/1.1"
	}
	return proto
}
