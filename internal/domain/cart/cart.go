package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors for cart operations.
var (
	ErrItemNotFound    = errors.New("cart item not found")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// Item represents a single book held in a user's cart. The (UserID, BookID)
// pair is unique: adding the same book again merges quantities.
//
// Items are pre-purchase state only. They are deleted when an order consumes
// them and never reference the resulting order.
type Item struct {
	ID        int64
	UserID    int64
	BookID    int64
	Quantity  int
	CreatedAt time.Time
}

// Repository defines persistence operations for cart items.
type Repository interface {
	// ListByUser returns the user's items in insertion order. An empty cart
	// yields an empty slice, not an error.
	ListByUser(ctx context.Context, userID int64) ([]Item, error)

	GetByID(ctx context.Context, id int64) (*Item, error)

	// Upsert inserts the item or, when a row for (UserID, BookID) already
	// exists, increments its quantity by item.Quantity.
	Upsert(ctx context.Context, item *Item) error

	UpdateQuantity(ctx context.Context, id int64, quantity int) error
	Delete(ctx context.Context, id int64) error

	// DeleteByIDs removes exactly the given items. Missing ids are ignored.
	DeleteByIDs(ctx context.Context, ids []int64) error

	// Clear removes all items for the user. Clearing an empty cart is a no-op.
	Clear(ctx context.Context, userID int64) error
}
