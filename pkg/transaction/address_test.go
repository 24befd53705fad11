package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoteAddressWithoutProxy(t *testing.T) {
	tx := New()
	tx.Req().Header.Set(HeaderForwardedFor, "10.0.0.1, 203.0.113.7")
	tx.SetPeerAddress("192.0.2.1")

	assert.Equal(t, "192.0.2.1", tx.RemoteAddress())

	tx.SetRemoteAddress("198.51.100.4")
	assert.Equal(t, "198.51.100.4", tx.RemoteAddress())
}

func TestRemoteAddressFromForwardedFor(t *testing.T) {
	tx := New(WithReverseProxy(true))
	tx.SetPeerAddress("127.0.0.1")
	tx.Req().Header.Set(HeaderForwardedFor, "10.0.0.1, 203.0.113.7")

	assert.Equal(t, "203.0.113.7", tx.RemoteAddress())

	tx.Req().Header.Set(HeaderForwardedFor, "198.51.100.9")
	assert.Equal(t, "203.0.113.7", tx.RemoteAddress())
}

func TestRemoteAddressUsesLastHeaderLine(t *testing.T) {
	tx := New(WithReverseProxy(true))
	tx.SetPeerAddress("127.0.0.1")
	tx.Req().Header.Add(HeaderForwardedFor, "10.0.0.1")
	tx.Req().Header.Add(HeaderForwardedFor, "198.51.100.2, 203.0.113.7")

	assert.Equal(t, "203.0.113.7", tx.RemoteAddress())
}

func TestRemoteAddressOverrideBeatsProxy(t *testing.T) {
	tx := New(WithReverseProxy(true))
	tx.Req().Header.Set(HeaderForwardedFor, "203.0.113.7")
	tx.SetRemoteAddress("192.0.2.10")

	assert.Equal(t, "192.0.2.10", tx.RemoteAddress())
}

func TestRemoteAddressFallsBack(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"absent", ""},
		{"trailing separator", "10.0.0.1, "},
		{"only commas", ",,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := New(WithReverseProxy(true))
			tx.SetPeerAddress("127.0.0.1")
			if tt.header != "" {
				tx.Req().Header.Set(HeaderForwardedFor, tt.header)
			}
			assert.Equal(t, "127.0.0.1", tx.RemoteAddress())
		})
	}
}

func TestRemoteAddressUnset(t *testing.T) {
	assert.Equal(t, "", New(WithReverseProxy(true)).RemoteAddress())
}

func TestLastForwardedFor(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"203.0.113.7", "203.0.113.7", true},
		{"a,b,c", "c", true},
		{"a b\tc", "c", true},
		{"not-an-address", "not-an-address", true},
		{"a, ", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := lastForwardedFor(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}
