package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order. Orders start pending and move
// to exactly one terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
)

// ErrInvalidTransition is returned for a status change the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid order status transition")

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusFulfilled, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s to
// target. Only pending orders may change state; fulfilled and cancelled are
// terminal.
func (s Status) CanTransitionTo(target Status) bool {
	return s == StatusPending && (target == StatusFulfilled || target == StatusCancelled)
}

// Order is an immutable record of a completed checkout. Prices and titles in
// Lines are snapshots taken at placement time; later catalog changes never
// affect them. Total always equals the sum of line subtotals.
type Order struct {
	ID        int64
	UserID    int64
	OrderDate time.Time
	Total     decimal.Decimal
	Status    Status
	Lines     []Line
	CreatedAt time.Time
}

// Line is a single purchased position, exclusively owned by its Order.
type Line struct {
	BookID    int64
	Title     string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Subtotal returns the line total: unit price times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create appends the order and its lines in one write, filling in the
	// assigned ID and CreatedAt. Orders are never updated afterwards except
	// through UpdateStatus.
	Create(ctx context.Context, o *Order) error

	GetByID(ctx context.Context, id int64) (*Order, error)

	// ListByUser returns the user's orders with lines, newest first.
	ListByUser(ctx context.Context, userID int64) ([]Order, error)

	UpdateStatus(ctx context.Context, id int64, status Status) error
}
