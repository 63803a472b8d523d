package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/firehorse/bookstore/internal/domain/book"
)

const (
	bookColumns = `id, title, author, category, description, price, stock, image_url, created_at, updated_at`

	listBooksSQL = `SELECT ` + bookColumns + ` FROM books ORDER BY id`

	searchBooksSQL = `SELECT ` + bookColumns + ` FROM books
		WHERE title ILIKE '%' || $1 || '%'
		   OR author ILIKE '%' || $1 || '%'
		   OR category ILIKE '%' || $1 || '%'
		ORDER BY id`

	getBookByIDSQL = `SELECT ` + bookColumns + ` FROM books WHERE id = $1`

	lockBooksByIDsSQL = `SELECT ` + bookColumns + ` FROM books
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	createBookSQL = `INSERT INTO books (title, author, category, description, price, stock, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	updateBookStockSQL = `UPDATE books SET stock = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + bookColumns

	decrementStockSQL = `UPDATE books SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`

	getStockSQL = `SELECT title, stock FROM books WHERE id = $1`

	deleteBookSQL = `DELETE FROM books WHERE id = $1`
)

var _ book.Repository = (*BookRepository)(nil)

// BookRepository implements book.Repository backed by PostgreSQL.
type BookRepository struct {
	pool *pgxpool.Pool
}

// NewBookRepository returns a BookRepository that uses the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// List returns all books in the catalog ordered by ID.
func (r *BookRepository) List(ctx context.Context) ([]book.Book, error) {
	rows, err := queryerFrom(ctx, r.pool).Query(ctx, listBooksSQL)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	return pgx.CollectRows(rows, scanBook)
}

// Search returns books whose title, author, or category contains the query.
// An empty query matches everything.
func (r *BookRepository) Search(ctx context.Context, query string) ([]book.Book, error) {
	if query == "" {
		return r.List(ctx)
	}

	rows, err := queryerFrom(ctx, r.pool).Query(ctx, searchBooksSQL, query)
	if err != nil {
		return nil, fmt.Errorf("searching books %q: %w", query, err)
	}
	return pgx.CollectRows(rows, scanBook)
}

// GetByID returns a single book by its identifier.
func (r *BookRepository) GetByID(ctx context.Context, id int64) (*book.Book, error) {
	rows, err := queryerFrom(ctx, r.pool).Query(ctx, getBookByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting book %d: %w", id, err)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBook)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, book.ErrNotFound
		}
		return nil, fmt.Errorf("getting book %d: %w", id, err)
	}
	return &b, nil
}

// LockByIDs reads the given books FOR UPDATE inside the ambient transaction.
// Rows are locked in ascending id order so concurrent placements acquire
// locks in the same sequence.
func (r *BookRepository) LockByIDs(ctx context.Context, ids []int64) ([]book.Book, error) {
	rows, err := queryerFrom(ctx, r.pool).Query(ctx, lockBooksByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking books: %w", err)
	}
	return pgx.CollectRows(rows, scanBook)
}

// Create persists a new book and fills in its assigned fields.
func (r *BookRepository) Create(ctx context.Context, b *book.Book) error {
	err := queryerFrom(ctx, r.pool).QueryRow(ctx, createBookSQL,
		b.Title, b.Author, b.Category, b.Description, b.Price, b.Stock, b.ImageURL,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating book %q: %w", b.Title, err)
	}
	return nil
}

// UpdateStock sets the absolute stock level (administrative restock).
func (r *BookRepository) UpdateStock(ctx context.Context, id int64, stock int) (*book.Book, error) {
	rows, err := queryerFrom(ctx, r.pool).Query(ctx, updateBookStockSQL, id, stock)
	if err != nil {
		return nil, fmt.Errorf("updating stock for book %d: %w", id, err)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBook)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, book.ErrNotFound
		}
		return nil, fmt.Errorf("updating stock for book %d: %w", id, err)
	}
	return &b, nil
}

// DecrementStock atomically subtracts amount from the book's stock, only
// when enough copies remain. The conditional UPDATE matches zero rows when
// either the book is missing or the stock is short; a follow-up read under
// the same transaction tells the two apart.
func (r *BookRepository) DecrementStock(ctx context.Context, id int64, amount int) error {
	q := queryerFrom(ctx, r.pool)

	tag, err := q.Exec(ctx, decrementStockSQL, id, amount)
	if err != nil {
		return fmt.Errorf("decrementing stock for book %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var (
		title string
		stock int
	)
	if err := q.QueryRow(ctx, getStockSQL, id).Scan(&title, &stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return book.ErrNotFound
		}
		return fmt.Errorf("checking stock for book %d: %w", id, err)
	}

	return &book.InsufficientStockError{
		BookID:    id,
		Title:     title,
		Available: stock,
		Requested: amount,
	}
}

// Delete removes a book from the catalog.
func (r *BookRepository) Delete(ctx context.Context, id int64) error {
	tag, err := queryerFrom(ctx, r.pool).Exec(ctx, deleteBookSQL, id)
	if err != nil {
		return fmt.Errorf("deleting book %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return book.ErrNotFound
	}
	return nil
}

func scanBook(row pgx.CollectableRow) (book.Book, error) {
	var b book.Book
	err := row.Scan(
		&b.ID, &b.Title, &b.Author, &b.Category, &b.Description,
		&b.Price, &b.Stock, &b.ImageURL, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}
