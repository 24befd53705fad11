package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	// ErrIncomplete means more bytes are needed before a message can be parsed.
	ErrIncomplete = errors.New("protocol: incomplete message")

	// ErrInvalidHeader is returned when serializing a header that is not a
	// valid HTTP field.
	ErrInvalidHeader = errors.New("protocol: invalid header field")
)

// Limits bounds the size of incoming messages. Zero disables a limit.
type Limits struct {
	MaxHeaderSize  int
	MaxMessageSize int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxHeaderSize:  64 * 1024,
		MaxMessageSize: 16 * 1024 * 1024,
	}
}

// ParseRequest parses one complete request from the front of buf and returns
// it with the number of bytes consumed. ErrIncomplete is returned while the
// request is still arriving; any other error is a *Error carrying the status
// code the server should answer with.
func ParseRequest(buf []byte, limits Limits) (*Request, int, error) {
	skip := len(buf) - len(bytes.TrimLeft(buf, "\r\n"))
	data := buf[skip:]

	if err := checkHeader(data, limits, http.StatusRequestHeaderFieldsTooLarge); err != nil {
		return nil, 0, err
	}

	rd := bytes.NewReader(data)
	br := bufio.NewReader(rd)
	hr, err := http.ReadRequest(br)
	if err != nil {
		return nil, 0, &Error{Message: fmt.Sprintf("malformed request: %v", err), Code: http.StatusBadRequest}
	}
	if limits.MaxMessageSize > 0 && hr.ContentLength > int64(limits.MaxMessageSize) {
		return nil, 0, messageTooLarge(http.StatusRequestEntityTooLarge)
	}

	body, err := readBody(hr.Body, limits.MaxMessageSize, http.StatusRequestEntityTooLarge)
	if err != nil {
		if incomplete(err) {
			return nil, 0, ErrIncomplete
		}
		var perr *Error
		if errors.As(err, &perr) {
			return nil, 0, perr
		}
		return nil, 0, &Error{Message: fmt.Sprintf("malformed request body: %v", err), Code: http.StatusBadRequest}
	}

	req := &Request{
		Method: hr.Method,
		URL:    hr.RequestURI,
		Proto:  hr.Proto,
		Header: hr.Header,
		body:   StaticContent(body),
	}
	// net/http promotes Host out of the header map.
	if hr.Host != "" && req.Header.Get("Host") == "" {
		req.Header.Set("Host", hr.Host)
	}

	return req, skip + len(data) - rd.Len() - br.Buffered(), nil
}

// ParseResponse parses one complete response to a request with the given
// method from the front of buf. atEOF reports that the peer closed the
// connection, which completes bodies delimited by connection close.
func ParseResponse(buf []byte, method string, atEOF bool, limits Limits) (*Response, int, error) {
	if err := checkHeader(buf, limits, 0); err != nil {
		if errors.Is(err, ErrIncomplete) && atEOF && len(buf) > 0 {
			return nil, 0, &Error{Message: "Premature connection close"}
		}
		return nil, 0, err
	}

	rd := bytes.NewReader(buf)
	br := bufio.NewReader(rd)
	hr, err := http.ReadResponse(br, &http.Request{Method: method})
	if err != nil {
		return nil, 0, &Error{Message: fmt.Sprintf("malformed response: %v", err)}
	}

	untilClose := hr.Body != http.NoBody && hr.ContentLength < 0 && len(hr.TransferEncoding) == 0
	if untilClose && !atEOF {
		if limits.MaxMessageSize > 0 && len(buf) > limits.MaxMessageSize {
			return nil, 0, messageTooLarge(0)
		}
		return nil, 0, ErrIncomplete
	}
	if limits.MaxMessageSize > 0 && hr.ContentLength > int64(limits.MaxMessageSize) {
		return nil, 0, messageTooLarge(0)
	}

	body, err := readBody(hr.Body, limits.MaxMessageSize, 0)
	if err != nil {
		var perr *Error
		switch {
		case incomplete(err) && atEOF:
			return nil, 0, &Error{Message: "Premature connection close"}
		case incomplete(err):
			return nil, 0, ErrIncomplete
		case errors.As(err, &perr):
			return nil, 0, perr
		}
		return nil, 0, &Error{Message: fmt.Sprintf("malformed response body: %v", err)}
	}

	res := &Response{
		StatusCode: hr.StatusCode,
		Message:    strings.TrimSpace(strings.TrimPrefix(hr.Status, strconv.Itoa(hr.StatusCode))),
		Proto:      hr.Proto,
		Header:     hr.Header,
		body:       StaticContent(body),
	}
	return res, len(buf) - rd.Len() - br.Buffered(), nil
}

// RequestTarget returns the request-target to put on the start line for raw,
// which may be an absolute URL or already a path.
func RequestTarget(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		if raw == "" {
			return "/"
		}
		return raw
	}
	return u.RequestURI()
}

// AppendRequestLine appends the request start line to dst.
func AppendRequestLine(dst []byte, r *Request) []byte {
	return fmt.Appendf(dst, "%s %s %s\r\n", r.Method, RequestTarget(r.URL), protoOrDefault(r.Proto))
}

// AppendStatusLine appends the response start line to dst. A zero status
// code is written as 200.
func AppendStatusLine(dst []byte, r *Response) []byte {
	code := r.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	msg := r.Message
	if msg == "" {
		msg = http.StatusText(code)
	}
	return fmt.Appendf(dst, "%s %03d %s\r\n", protoOrDefault(r.Proto), code, msg)
}

// AppendHeaders appends the header block, including the terminating empty
// line, to dst. Fields are written in sorted order.
func AppendHeaders(dst []byte, h http.Header) ([]byte, error) {
	for _, name := range slices.Sorted(maps.Keys(h)) {
		if !httpguts.ValidHeaderFieldName(name) {
			return dst, fmt.Errorf("%w: name %q", ErrInvalidHeader, name)
		}
		for _, v := range h[name] {
			if !httpguts.ValidHeaderFieldValue(v) {
				return dst, fmt.Errorf("%w: value for %q", ErrInvalidHeader, name)
			}
			dst = append(dst, name...)
			dst = append(dst, ": "...)
			dst = append(dst, v...)
			dst = append(dst, "\r\n"...)
		}
	}
	return append(dst, "\r\n"...), nil
}

// HasToken reports whether any value of the named header contains token,
// compared case-insensitively.
func HasToken(h http.Header, name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(name), token)
}

func checkHeader(buf []byte, limits Limits, code int) error {
	end := headerEnd(buf)
	if end < 0 {
		if limits.MaxHeaderSize > 0 && len(buf) > limits.MaxHeaderSize {
			return &Error{Message: "Maximum header size exceeded", Code: code}
		}
		return ErrIncomplete
	}
	if limits.MaxHeaderSize > 0 && end > limits.MaxHeaderSize {
		return &Error{Message: "Maximum header size exceeded", Code: code}
	}
	return nil
}

func headerEnd(buf []byte) int {
	if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
		return i + 4
	}
	if i := bytes.Index(buf, []byte("\n\n")); i >= 0 {
		return i + 2
	}
	return -1
}

func readBody(r io.Reader, limit int, code int) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(body) > limit {
		return nil, messageTooLarge(code)
	}
	return body, nil
}

func messageTooLarge(code int) *Error {
	return &Error{Message: "Maximum message size exceeded", Code: code}
}

// incomplete reports whether a body read ran out of buffered bytes. net/http
// reports a truncated trailer with an unexported error, hence the text match.
func incomplete(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		strings.Contains(err.Error(), "unexpected EOF")
}

func protoOrDefault(proto string) string {
	if proto == "" {
		return "HTTP/1.1"
	}
	return proto
}
