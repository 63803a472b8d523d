package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/firehorse/bookstore/internal/domain/book"
	"github.com/firehorse/bookstore/internal/domain/cart"
)

// Sentinel errors for order placement.
var (
	ErrEmptyCart = errors.New("cart is empty")
	ErrNotFound  = errors.New("order not found")

	// ErrConflict signals the transaction lost a concurrency race
	// (serialization failure or deadlock). The placement left no side
	// effects and may be replayed as a whole.
	ErrConflict = errors.New("concurrent modification, retry placement")
)

// BookNotFoundError indicates a cart references a book that no longer exists.
type BookNotFoundError struct {
	BookID int64
}

func (e *BookNotFoundError) Error() string {
	return fmt.Sprintf("book %d not found", e.BookID)
}

// TxRunner executes fn inside a single transaction. Every repository call
// made with the context passed to fn joins that transaction; fn returning an
// error rolls everything back.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service converts mutable carts into immutable orders. This is the only
// write path that touches carts, inventory, and the order ledger together,
// and it does so all-or-nothing.
type Service struct {
	books  book.Repository
	carts  cart.Repository
	orders Repository
	tx     TxRunner
}

// NewService creates an order Service with the required domain dependencies.
func NewService(books book.Repository, carts cart.Repository, orders Repository, tx TxRunner) *Service {
	return &Service{
		books:  books,
		carts:  carts,
		orders: orders,
		tx:     tx,
	}
}

// PlaceOrder materializes the user's cart into a persisted order:
//
//  1. Read the cart; an empty cart fails before anything else.
//  2. Lock every referenced book row (ascending id, to keep concurrent
//     placements from deadlocking against each other).
//  3. Validate stock for the whole order before touching any row, so a
//     failing later line can never leave earlier lines decremented.
//  4. Snapshot title and current price into lines and accumulate the total.
//  5. Decrement all stocks, append the order, and delete exactly the cart
//     rows read in step 1 — items added concurrently after the read survive.
//
// The entire sequence runs in one transaction: on any error no stock
// decrement, order row, or cart deletion is observable.
func (s *Service) PlaceOrder(ctx context.Context, userID int64) (*Order, error) {
	var placed *Order

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		items, err := s.carts.ListByUser(txCtx, userID)
		if err != nil {
			return errors.Wrap(err, "list cart")
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		ids := make([]int64, len(items))
		for i, item := range items {
			ids[i] = item.BookID
		}

		locked, err := s.books.LockByIDs(txCtx, ids)
		if err != nil {
			return errors.Wrap(err, "lock books")
		}

		byID := make(map[int64]*book.Book, len(locked))
		for i := range locked {
			byID[locked[i].ID] = &locked[i]
		}

		// Whole-order validation pass. Nothing is mutated until every line
		// has been checked against the locked stock levels.
		for _, item := range items {
			b, ok := byID[item.BookID]
			if !ok {
				return &BookNotFoundError{BookID: item.BookID}
			}
			if b.Stock < item.Quantity {
				return &book.InsufficientStockError{
					BookID:    b.ID,
					Title:     b.Title,
					Available: b.Stock,
					Requested: item.Quantity,
				}
			}
		}

		now := time.Now()
		total := decimal.Zero
		lines := make([]Line, len(items))
		for i, item := range items {
			b := byID[item.BookID]
			lines[i] = Line{
				BookID:    b.ID,
				Title:     b.Title,
				UnitPrice: b.Price,
				Quantity:  item.Quantity,
			}
			total = total.Add(lines[i].Subtotal())
		}

		// Safe now: every line passed validation under row locks.
		for _, item := range items {
			if err := s.books.DecrementStock(txCtx, item.BookID, item.Quantity); err != nil {
				return errors.Wrap(err, "decrement stock")
			}
		}

		o := &Order{
			UserID:    userID,
			OrderDate: now,
			Total:     total,
			Status:    StatusPending,
			Lines:     lines,
		}
		if err := s.orders.Create(txCtx, o); err != nil {
			return errors.Wrap(err, "create order")
		}

		consumed := make([]int64, len(items))
		for i, item := range items {
			consumed[i] = item.ID
		}
		if err := s.carts.DeleteByIDs(txCtx, consumed); err != nil {
			return errors.Wrap(err, "clear cart")
		}

		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return placed, nil
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// UpdateStatus applies a pending → fulfilled|cancelled transition. It is
// deliberately outside the placement transaction; placed orders only ever
// change through this path.
func (s *Service) UpdateStatus(ctx context.Context, id int64, target Status) error {
	if !target.Valid() {
		return ErrInvalidTransition
	}

	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "get order")
	}
	if !o.Status.CanTransitionTo(target) {
		return ErrInvalidTransition
	}

	return s.orders.UpdateStatus(ctx, id, target)
}
