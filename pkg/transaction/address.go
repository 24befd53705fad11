package transaction

import "strings"

// HeaderForwardedFor carries the client chain added by reverse proxies.
const HeaderForwardedFor = "X-Forwarded-For"

// RemoteAddress returns the address of the peer this transaction serves.
//
// An address stored with SetRemoteAddress always wins. Otherwise, in reverse
// proxy mode, the last entry of X-Forwarded-For across all header lines is
// used; once found it is cached for the life of the transaction. The token is
// not validated. In all other cases the socket-level peer address is returned.
func (t *Transaction) RemoteAddress() string {
	if t.remoteAddressSet {
		return t.remoteAddress
	}
	if t.reverseProxy {
		if t.forwardedFor != "" {
			return t.forwardedFor
		}
		if addr, ok := lastForwardedFor(strings.Join(t.Req().Header.Values(HeaderForwardedFor), ", ")); ok {
			t.forwardedFor = addr
			return addr
		}
	}
	return t.peerAddress
}

// SetRemoteAddress stores an explicit remote address that bypasses reverse
// proxy resolution.
func (t *Transaction) SetRemoteAddress(addr string) {
	t.remoteAddress = addr
	t.remoteAddressSet = true
}

// PeerAddress returns the address of the socket peer.
func (t *Transaction) PeerAddress() string { return t.peerAddress }

// SetPeerAddress records the address of the socket peer.
func (t *Transaction) SetPeerAddress(addr string) { t.peerAddress = addr }

// ReverseProxy reports whether forwarded headers are trusted.
func (t *Transaction) ReverseProxy() bool { return t.reverseProxy }

// lastForwardedFor returns the trailing run of characters that are neither
// commas nor whitespace.
func lastForwardedFor(header string) (string, bool) {
	i := strings.LastIndexAny(header, ", \t\r\n\v\f")
	addr := header[i+1:]
	return addr, addr != ""
}
