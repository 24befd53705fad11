package protocol

import (
	"fmt"
	"net/http"
)

// Error describes why a message failed. Code is the associated HTTP status
// code, or zero when the failure has none (connection errors).
type Error struct {
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%d %s", e.Code, e.Message)
	}
	return e.Message
}

// Request represents an HTTP request travelling through a transaction.
type Request struct {
	Method string
	URL    string
	Proto  string
	Header http.Header

	body     *Content
	err      *Error
	finished bool
}

// NewRequest creates a request with an empty header set and no body.
func NewRequest(method, url string) *Request {
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: method,
		URL:    url,
		Proto:  "HTTP/1.1",
		Header: make(http.Header),
	}
}

// Body returns the request content, creating an empty one if needed.
func (r *Request) Body() *Content {
	if r.body == nil {
		r.body = StaticContent(nil)
	}
	return r.body
}

// SetBody replaces the request content.
func (r *Request) SetBody(c *Content) { r.body = c }

// Error returns the parser error recorded for this request, if any.
func (r *Request) Error() *Error { return r.err }

// SetError records a parser error. A zero code means no status is attached.
func (r *Request) SetError(message string, code int) {
	r.err = &Error{Message: message, Code: code}
}

// Finish marks the request as complete.
func (r *Request) Finish() { r.finished = true }

// IsFinished reports whether Finish has been called.
func (r *Request) IsFinished() bool { return r.finished }

// Response represents an HTTP response travelling through a transaction.
type Response struct {
	StatusCode int
	Message    string
	Proto      string
	Header     http.Header

	body     *Content
	err      *Error
	finished bool
}

// NewResponse creates an empty response.
func NewResponse() *Response {
	return &Response{
		Proto:  "HTTP/1.1",
		Header: make(http.Header),
	}
}

// Body returns the response content, creating an empty one if needed.
func (r *Response) Body() *Content {
	if r.body == nil {
		r.body = StaticContent(nil)
	}
	return r.body
}

// SetBody replaces the response content.
func (r *Response) SetBody(c *Content) { r.body = c }

// Error returns the explicit error recorded for this response or, failing
// that, an error derived from a 4xx/5xx status code.
func (r *Response) Error() *Error {
	if r.err != nil {
		return r.err
	}
	if r.StatusCode >= 400 {
		msg := r.Message
		if msg == "" {
			msg = http.StatusText(r.StatusCode)
		}
		return &Error{Message: msg, Code: r.StatusCode}
	}
	return nil
}

// SetError records a response error such as a connection failure.
func (r *Response) SetError(message string, code int) {
	r.err = &Error{Message: message, Code: code}
}

// Finish marks the response as logically complete; no further body is
// expected.
func (r *Response) Finish() { r.finished = true }

// IsFinished reports whether Finish has been called.
func (r *Response) IsFinished() bool { return r.finished }

// StatusMessage returns the reason phrase, defaulting to the standard text.
func (r *Response) StatusMessage() string {
	if r.Message != "" {
		return r.Message
	}
	return http.StatusText(r.StatusCode)
}
