package transport

import (
	"net"
	"strconv"
	"sync"

	"github.com/txwire/pkg/transaction"
)

const readBufferSize = 32 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, readBufferSize)
		return &b
	},
}

type readResult struct {
	data []byte
	err  error
}

// conn pumps socket reads into a channel so that a single loop can wait on
// reads, body readiness and timers at once.
type conn struct {
	net.Conn

	reads     chan readResult
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(c net.Conn) *conn {
	cn := &conn{
		Conn:  c,
		reads: make(chan readResult),
		done:  make(chan struct{}),
	}
	go cn.pump()
	return cn
}

func (c *conn) pump() {
	for {
		bp := bufPool.Get().(*[]byte)
		n, err := c.Conn.Read(*bp)
		var data []byte
		if n > 0 {
			data = append([]byte(nil), (*bp)[:n]...)
		}
		bufPool.Put(bp)

		select {
		case c.reads <- readResult{data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			c.repeat(err)
			return
		}
	}
}

// repeat keeps reporting a terminal read error until the conn is closed.
func (c *conn) repeat(err error) {
	for {
		select {
		case c.reads <- readResult{err: err}:
		case <-c.done:
			return
		}
	}
}

// Close closes the socket and stops the pump.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.Conn.Close()
	})
	return err
}

// annotate copies the socket addresses and connection id onto tx.
func annotate(tx *transaction.Transaction, c net.Conn, id string) {
	if host, port, ok := splitAddr(c.LocalAddr()); ok {
		tx.LocalAddress = host
		tx.LocalPort = port
	}
	if host, port, ok := splitAddr(c.RemoteAddr()); ok {
		tx.SetPeerAddress(host)
		tx.RemotePort = port
	}
	tx.SetConnection(id)
}

func splitAddr(addr net.Addr) (string, int, bool) {
	if addr == nil {
		return "", 0, false
	}
	host, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0, true
	}
	port, _ := strconv.Atoi(p)
	return host, port, true
}
