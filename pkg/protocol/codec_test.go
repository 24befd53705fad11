package protocol

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestIncremental(t *testing.T) {
	raw := "POST /items?id=7 HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhelloGET / HTTP/1.1\r\n"

	for i := 0; i < strings.Index(raw, "hello")+5; i++ {
		_, _, err := ParseRequest([]byte(raw[:i]), DefaultLimits())
		require.ErrorIs(t, err, ErrIncomplete, "prefix %d", i)
	}

	req, n, err := ParseRequest([]byte(raw), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/items?id=7", req.URL)
	assert.Equal(t, "example.com", req.Header.Get("Host"))
	assert.Equal(t, "hello", req.Body().String())
	assert.Equal(t, "GET / HTTP/1.1\r\n", raw[n:])
}

func TestParseRequestChunked(t *testing.T) {
	raw := "\r\nPUT /x HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n2\r\nde\r\n0\r\n\r\n"

	_, _, err := ParseRequest([]byte(raw[:len(raw)-3]), DefaultLimits())
	require.ErrorIs(t, err, ErrIncomplete)

	req, n, err := ParseRequest([]byte(raw), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "abcde", req.Body().String())
	assert.Equal(t, len(raw), n)
}

func TestParseRequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		limits Limits
		code   int
	}{
		{"bad request line", "NOT-HTTP\r\n\r\n", DefaultLimits(), http.StatusBadRequest},
		{"header too large", "GET / HTTP/1.1\r\nX: " + strings.Repeat("a", 64), Limits{MaxHeaderSize: 32}, http.StatusRequestHeaderFieldsTooLarge},
		{"declared body too large", "POST / HTTP/1.1\r\nHost: a\r\nContent-Length: 100\r\n\r\n", Limits{MaxMessageSize: 10}, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseRequest([]byte(tt.raw), tt.limits)
			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.code, perr.Code)
		})
	}
}

func TestParseResponse(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\nContent-Length: 4\r\n\r\nnope"

	res, n, err := ParseResponse([]byte(raw), http.MethodGet, false, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, 404, res.StatusCode)
	assert.Equal(t, "Not Found", res.Message)
	assert.Equal(t, "nope", res.Body().String())
	assert.Equal(t, len(raw), n)

	require.NotNil(t, res.Error())
	assert.Equal(t, 404, res.Error().Code)
}

func TestParseResponseUntilClose(t *testing.T) {
	raw := []byte("HTTP/1.0 200 OK\r\n\r\npartial body")

	_, _, err := ParseResponse(raw, http.MethodGet, false, DefaultLimits())
	require.ErrorIs(t, err, ErrIncomplete)

	res, _, err := ParseResponse(raw, http.MethodGet, true, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "partial body", res.Body().String())
}

func TestParseResponseHeadHasNoBody(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n")

	res, n, err := ParseResponse(raw, http.MethodHead, false, DefaultLimits())
	require.NoError(t, err)
	assert.Zero(t, res.Body().Len())
	assert.Equal(t, len(raw), n)
}

func TestParseResponsePrematureClose(t *testing.T) {
	for _, raw := range []string{
		"HTTP/1.1 200 OK\r\nContent-Le",
		"HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nshort",
	} {
		_, _, err := ParseResponse([]byte(raw), http.MethodGet, true, DefaultLimits())
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "Premature connection close", perr.Message)
		assert.Zero(t, perr.Code)
	}
}

func TestAppendStartLines(t *testing.T) {
	req := NewRequest(http.MethodGet, "http://example.com/a/b?c=d")
	assert.Equal(t, "GET /a/b?c=d HTTP/1.1\r\n", string(AppendRequestLine(nil, req)))

	req.URL = ""
	assert.Equal(t, "GET / HTTP/1.1\r\n", string(AppendRequestLine(nil, req)))

	res := NewResponse()
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", string(AppendStatusLine(nil, res)))

	res.StatusCode, res.Message = 418, "Short"
	assert.Equal(t, "HTTP/1.1 418 Short\r\n", string(AppendStatusLine(nil, res)))
}

func TestAppendHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-B", "2")
	h.Set("X-A", "1")
	h.Add("X-A", "3")

	out, err := AppendHeaders(nil, h)
	require.NoError(t, err)
	assert.Equal(t, "X-A: 1\r\nX-A: 3\r\nX-B: 2\r\n\r\n", string(out))

	h.Set("X-Bad", "a\r\nb")
	_, err = AppendHeaders(nil, h)
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestHasToken(t *testing.T) {
	h := http.Header{"Connection": {"keep-alive, Upgrade"}}
	assert.True(t, HasToken(h, "Connection", "upgrade"))
	assert.False(t, HasToken(h, "Connection", "close"))
}
