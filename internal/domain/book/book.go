package book

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested book does not exist.
var ErrNotFound = errors.New("book not found")

// InsufficientStockError indicates a conditional stock decrement failed
// because fewer copies were available than requested.
type InsufficientStockError struct {
	BookID    int64
	Title     string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for book %q: available %d, requested %d",
		e.Title, e.Available, e.Requested)
}

// Book represents a catalog item available for purchase.
type Book struct {
	ID          int64
	Title       string
	Author      string
	Category    string
	Description string
	Price       decimal.Decimal
	Stock       int
	ImageURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Repository defines persistence operations for the book catalog.
//
// DecrementStock is the only mutation the order placement path uses; it must
// subtract the amount atomically and only when stock >= amount, returning
// *InsufficientStockError otherwise with the row left untouched.
type Repository interface {
	List(ctx context.Context) ([]Book, error)
	Search(ctx context.Context, query string) ([]Book, error)
	GetByID(ctx context.Context, id int64) (*Book, error)

	// LockByIDs reads the given books with row locks held for the duration
	// of the ambient transaction. IDs are locked in ascending order.
	LockByIDs(ctx context.Context, ids []int64) ([]Book, error)

	Create(ctx context.Context, b *Book) error
	UpdateStock(ctx context.Context, id int64, stock int) (*Book, error)
	DecrementStock(ctx context.Context, id int64, amount int) error
	Delete(ctx context.Context, id int64) error
}
