package protocol

import (
	"errors"
	"sync"
)

// ErrContentClosed is returned when writing to closed content.
var ErrContentClosed = errors.New("protocol: content closed")

// Content is a message body that may still be growing. Writers on any
// goroutine append to it; the transport drains it through Chunk and waits on
// Ready while no bytes are pending.
type Content struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
	ready  chan struct{}
}

// NewContent creates open content for streaming bodies.
func NewContent() *Content {
	return &Content{ready: make(chan struct{}, 1)}
}

// StaticContent creates closed content holding p.
func StaticContent(p []byte) *Content {
	c := NewContent()
	c.buf = append([]byte(nil), p...)
	c.closed = true
	return c
}

// Write appends p to the content.
func (c *Content) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrContentClosed
	}
	c.buf = append(c.buf, p...)
	c.mu.Unlock()

	c.notify()
	return len(p), nil
}

// WriteString appends s to the content.
func (c *Content) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

// Close marks the content complete. Closing twice is a no-op.
func (c *Content) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.notify()
	return nil
}

// Chunk returns the bytes after offset and whether the content is complete.
// The returned slice must not be modified.
func (c *Content) Chunk(offset int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if offset > len(c.buf) {
		offset = len(c.buf)
	}
	return c.buf[offset:len(c.buf):len(c.buf)], c.closed
}

// Bytes returns a copy of everything written so far.
func (c *Content) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf...)
}

// String returns the content written so far as a string.
func (c *Content) String() string {
	return string(c.Bytes())
}

// Len returns the number of bytes written so far.
func (c *Content) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Closed reports whether the content is complete.
func (c *Content) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Ready fires after a Write or Close.
func (c *Content) Ready() <-chan struct{} {
	return c.ready
}

func (c *Content) notify() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}
