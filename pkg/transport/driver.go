// Package transport runs transactions over real sockets. It owns all I/O:
// the transaction types only turn bytes into state and back.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/txwire/pkg/transaction"
)

// ErrInactivityTimeout is returned when the peer went quiet for longer than
// the configured inactivity timeout.
var ErrInactivityTimeout = errors.New("transport: inactivity timeout")

// readyExchange is an exchange that can signal when it has new bytes to write.
type readyExchange interface {
	transaction.Exchange
	Ready() <-chan struct{}
}

type options struct {
	logger   *zap.Logger
	observer Observer
}

// Option configures a Client or Server.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver sets the observer notified of transaction events.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), observer: NopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type driver struct {
	role     Role
	timeout  time.Duration
	observer Observer
}

// run drives ex until it finishes. Connection-level failures are recorded on
// the transaction and also returned, so the caller knows the socket is no
// longer usable. A nil return means the connection can carry more traffic.
// ErrNotImplemented is returned untouched: the transaction is left as it was.
func (d driver) run(ctx context.Context, cn *conn, ex readyExchange) error {
	tx := ex.Tx()

	write, read, closeFn := ex.ServerWrite, ex.ServerRead, ex.ServerClose
	if d.role == RoleClient {
		write, read, closeFn = ex.ClientWrite, ex.ClientRead, ex.ClientClose
	}

	var timeout <-chan time.Time
	var timer *time.Timer
	if d.timeout > 0 {
		timer = time.NewTimer(d.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	touch := func() {
		if timer != nil {
			timer.Reset(d.timeout)
		}
	}

	for !tx.IsFinished() {
		for tx.IsWriting() {
			out, err := write()
			if errors.Is(err, transaction.ErrNotImplemented) {
				return err
			}
			if err != nil {
				fail(tx, err.Error())
				closeFn()
				return err
			}
			if len(out) > 0 {
				if _, err := cn.Write(out); err != nil {
					fail(tx, fmt.Sprintf("Connection error: %v", err))
					closeFn()
					return err
				}
				d.observer.BytesTransferred(d.role, DirectionOut, len(out))
				touch()
			}
		}
		if tx.IsFinished() {
			break
		}

		select {
		case <-ctx.Done():
			fail(tx, "Connection aborted")
			closeFn()
			return ctx.Err()

		case <-timeout:
			fail(tx, "Inactivity timeout")
			closeFn()
			return ErrInactivityTimeout

		case <-cn.done:
			fail(tx, "Connection aborted")
			closeFn()
			return net.ErrClosed

		case <-ex.Ready():
			if tx.State() == transaction.StatePaused {
				tx.Resume()
			}

		case r := <-cn.reads:
			touch()
			if len(r.data) > 0 {
				d.observer.BytesTransferred(d.role, DirectionIn, len(r.data))
				err := read(r.data)
				if errors.Is(err, transaction.ErrNotImplemented) {
					return err
				}
				if err != nil {
					fail(tx, err.Error())
					closeFn()
					return err
				}
			}
			if r.err != nil {
				return d.closed(tx, closeFn, r.err)
			}
		}
	}
	return nil
}

// closed handles the end of the read side of the socket.
func (d driver) closed(tx *transaction.Transaction, closeFn func(), err error) error {
	if tx.IsFinished() {
		return err
	}
	switch {
	case !errors.Is(err, io.EOF):
		fail(tx, fmt.Sprintf("Connection error: %v", err))
	case d.role == RoleServer && !tx.IsWebSocket():
		fail(tx, "Premature connection close")
	}
	closeFn()
	return err
}

// fail records a connection error unless one is already present.
func fail(tx *transaction.Transaction, msg string) {
	if tx.Res().Error() == nil {
		tx.Res().SetError(msg, 0)
	}
}
