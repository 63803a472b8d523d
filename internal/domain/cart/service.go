package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/firehorse/bookstore/internal/domain/book"
)

// Service encapsulates cart management business logic.
type Service struct {
	items Repository
	books book.Repository
}

// NewService creates a cart Service with the required dependencies.
func NewService(items Repository, books book.Repository) *Service {
	return &Service{
		items: items,
		books: books,
	}
}

// Add puts quantity copies of a book into the user's cart, merging with an
// existing line for the same book. The book must exist and quantity must be
// positive.
func (s *Service) Add(ctx context.Context, userID, bookID int64, quantity int) (*Item, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	if _, err := s.books.GetByID(ctx, bookID); err != nil {
		return nil, errors.Wrap(err, "get book")
	}

	item := &Item{
		UserID:   userID,
		BookID:   bookID,
		Quantity: quantity,
	}
	if err := s.items.Upsert(ctx, item); err != nil {
		return nil, errors.Wrap(err, "upsert cart item")
	}

	return item, nil
}

// SetQuantity updates an item's quantity. A quantity of zero or less deletes
// the item, matching the "cart never holds non-positive lines" invariant.
func (s *Service) SetQuantity(ctx context.Context, itemID int64, quantity int) error {
	if _, err := s.items.GetByID(ctx, itemID); err != nil {
		return errors.Wrap(err, "get cart item")
	}

	if quantity <= 0 {
		return s.items.Delete(ctx, itemID)
	}
	return s.items.UpdateQuantity(ctx, itemID, quantity)
}

// Remove deletes a single item from the cart.
func (s *Service) Remove(ctx context.Context, itemID int64) error {
	return s.items.Delete(ctx, itemID)
}

// Clear empties the user's cart. Clearing an already-empty cart succeeds.
func (s *Service) Clear(ctx context.Context, userID int64) error {
	return s.items.Clear(ctx, userID)
}

// Items returns the user's cart contents in insertion order.
func (s *Service) Items(ctx context.Context, userID int64) ([]Item, error) {
	return s.items.ListByUser(ctx, userID)
}
