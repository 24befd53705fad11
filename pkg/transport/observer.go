package transport

import (
	"time"

	"github.com/txwire/pkg/transaction"
)

// Role says which side of the connection a driver runs.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Direction of transferred bytes relative to the local side.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Observer receives driver events. Implementations must be safe for
// concurrent use; every connection reports from its own goroutine.
type Observer interface {
	TransactionStarted(role Role, tx *transaction.Transaction)
	TransactionFinished(role Role, tx *transaction.Transaction, elapsed time.Duration)
	BytesTransferred(role Role, dir Direction, n int)
	WebSocketMessage(role Role, op string)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) TransactionStarted(Role, *transaction.Transaction) {}
func (NopObserver) TransactionFinished(Role, *transaction.Transaction, time.Duration) {}
func (NopObserver) BytesTransferred(Role, Direction, int) {}
func (NopObserver) WebSocketMessage(Role, string) {}
