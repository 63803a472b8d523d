package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/firehorse/bookstore/internal/domain/cart"
)

const (
	listCartItemsSQL = `SELECT id, user_id, book_id, quantity, created_at
		FROM cart_items WHERE user_id = $1 ORDER BY id`

	getCartItemSQL = `SELECT id, user_id, book_id, quantity, created_at
		FROM cart_items WHERE id = $1`

	upsertCartItemSQL = `INSERT INTO cart_items (user_id, book_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, book_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING id, quantity, created_at`

	updateCartQuantitySQL = `UPDATE cart_items SET quantity = $2 WHERE id = $1`

	deleteCartItemSQL = `DELETE FROM cart_items WHERE id = $1`

	deleteCartItemsByIDsSQL = `DELETE FROM cart_items WHERE id = ANY($1)`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// ListByUser returns the user's cart items in insertion order.
func (r *CartRepository) ListByUser(ctx context.Context, userID int64) ([]cart.Item, error) {
	rows, err := queryerFrom(ctx, r.pool).Query(ctx, listCartItemsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart for user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanCartItem)
}

// GetByID returns a single cart item.
func (r *CartRepository) GetByID(ctx context.Context, id int64) (*cart.Item, error) {
	rows, err := queryerFrom(ctx, r.pool).Query(ctx, getCartItemSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting cart item %d: %w", id, err)
	}

	item, err := pgx.CollectExactlyOneRow(rows, scanCartItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrItemNotFound
		}
		return nil, fmt.Errorf("getting cart item %d: %w", id, err)
	}
	return &item, nil
}

// Upsert inserts the item or merges its quantity into the existing row for
// the same (user, book) pair. The unique constraint makes the merge atomic
// under concurrent adds.
func (r *CartRepository) Upsert(ctx context.Context, item *cart.Item) error {
	err := queryerFrom(ctx, r.pool).QueryRow(ctx, upsertCartItemSQL,
		item.UserID, item.BookID, item.Quantity,
	).Scan(&item.ID, &item.Quantity, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting cart item for user %d: %w", item.UserID, err)
	}
	return nil
}

// UpdateQuantity sets the item's quantity.
func (r *CartRepository) UpdateQuantity(ctx context.Context, id int64, quantity int) error {
	tag, err := queryerFrom(ctx, r.pool).Exec(ctx, updateCartQuantitySQL, id, quantity)
	if err != nil {
		return fmt.Errorf("updating cart item %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// Delete removes a single cart item.
func (r *CartRepository) Delete(ctx context.Context, id int64) error {
	tag, err := queryerFrom(ctx, r.pool).Exec(ctx, deleteCartItemSQL, id)
	if err != nil {
		return fmt.Errorf("deleting cart item %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// DeleteByIDs removes exactly the given items; missing ids are ignored.
func (r *CartRepository) DeleteByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := queryerFrom(ctx, r.pool).Exec(ctx, deleteCartItemsByIDsSQL, ids); err != nil {
		return fmt.Errorf("deleting cart items: %w", err)
	}
	return nil
}

// Clear removes all of the user's cart items. Clearing an empty cart is a
// no-op, not an error.
func (r *CartRepository) Clear(ctx context.Context, userID int64) error {
	if _, err := queryerFrom(ctx, r.pool).Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart for user %d: %w", userID, err)
	}
	return nil
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var item cart.Item
	err := row.Scan(&item.ID, &item.UserID, &item.BookID, &item.Quantity, &item.CreatedAt)
	return item, err
}
