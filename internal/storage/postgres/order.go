package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/firehorse/bookstore/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (user_id, order_date, total_amount, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	createOrderLineSQL = `INSERT INTO order_lines (order_id, book_id, title, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5)`

	getOrderByIDSQL = `SELECT id, user_id, order_date, total_amount, status, created_at
		FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT id, user_id, order_date, total_amount, status, created_at
		FROM orders WHERE user_id = $1 ORDER BY order_date DESC, id DESC`

	listOrderLinesSQL = `SELECT order_id, book_id, title, unit_price, quantity
		FROM order_lines WHERE order_id = ANY($1) ORDER BY id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Order
// lines live in their own table with ON DELETE CASCADE, so a line never
// outlives or exists without its order.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and all of its lines, filling in the assigned
// id and creation timestamp. Callers run this inside the placement
// transaction; the order row and its lines commit or roll back together.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	q := queryerFrom(ctx, r.pool)

	err := q.QueryRow(ctx, createOrderSQL,
		o.UserID, o.OrderDate, o.Total, string(o.Status),
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating order for user %d: %w", o.UserID, err)
	}

	for _, line := range o.Lines {
		_, err := q.Exec(ctx, createOrderLineSQL,
			o.ID, line.BookID, line.Title, line.UnitPrice, line.Quantity,
		)
		if err != nil {
			return fmt.Errorf("creating line for order %d: %w", o.ID, err)
		}
	}

	return nil
}

// GetByID returns a single order with its lines.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := queryerFrom(ctx, r.pool).Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	if err := r.attachLines(ctx, []*order.Order{&o}); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListByUser returns the user's orders with lines, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	rows, err := queryerFrom(ctx, r.pool).Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %d: %w", userID, err)
	}

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %d: %w", userID, err)
	}

	refs := make([]*order.Order, len(orders))
	for i := range orders {
		refs[i] = &orders[i]
	}
	if err := r.attachLines(ctx, refs); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus writes the order's status. State machine checks happen in the
// service; this is a plain column update.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, status order.Status) error {
	tag, err := queryerFrom(ctx, r.pool).Exec(ctx, updateOrderStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating status of order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// attachLines loads the lines for all given orders in one query.
func (r *OrderRepository) attachLines(ctx context.Context, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*order.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
	}

	rows, err := queryerFrom(ctx, r.pool).Query(ctx, listOrderLinesSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			line    order.Line
		)
		if err := rows.Scan(&orderID, &line.BookID, &line.Title, &line.UnitPrice, &line.Quantity); err != nil {
			return fmt.Errorf("scanning order line: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, line)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.OrderDate, &o.Total, &status, &o.CreatedAt)
	o.Status = order.Status(status)
	return o, err
}
