package transaction

import (
	"errors"
	"fmt"
)

// ErrNotImplemented signals a variant that lacks a capability. It is a
// programming error: transports must return it to their caller untouched.
var ErrNotImplemented = errors.New("transaction: capability not implemented")

// Exchange is the contract every concrete transaction variant satisfies. The
// read methods consume bytes from the peer; the write methods produce the
// next bytes to send, or nothing when there is currently nothing to send.
type Exchange interface {
	ClientRead(chunk []byte) error
	ClientWrite() ([]byte, error)
	ServerRead(chunk []byte) error
	ServerWrite() ([]byte, error)

	ClientClose()
	ServerClose()

	Tx() *Transaction
}

// Unimplemented can be embedded by variants that only support one role.
type Unimplemented struct{}

func (Unimplemented) ClientRead([]byte) error { return notImplemented("ClientRead") }
func (Unimplemented) ClientWrite() ([]byte, error) { return nil, notImplemented("ClientWrite") }
func (Unimplemented) ServerRead([]byte) error { return notImplemented("ServerRead") }
func (Unimplemented) ServerWrite() ([]byte, error) { return nil, notImplemented("ServerWrite") }

func notImplemented(method string) error {
	return fmt.Errorf("%w: %s", ErrNotImplemented, method)
}
