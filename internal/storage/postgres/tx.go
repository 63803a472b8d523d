package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/firehorse/bookstore/internal/domain/order"
)

// txKey is the context key under which an open pgx.Tx travels.
type txKey struct{}

// queryerFrom returns the transaction from ctx when one is open, falling
// back to the pool.
func queryerFrom(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// TxManager runs functions inside a single database transaction, carried
// through the context so repositories join it without knowing about it.
// It satisfies order.TxRunner.
type TxManager struct {
	pool *pgxpool.Pool
}

var _ order.TxRunner = (*TxManager)(nil)

// NewTxManager creates a TxManager over the given pool.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// RunInTx begins a transaction, runs fn with the transaction injected into
// the context, and commits when fn returns nil or rolls back otherwise.
// Calls nested inside an already-open transaction reuse it.
//
// Serialization failures and deadlocks are mapped to order.ErrConflict so
// callers can distinguish a retriable race from a hard failure.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return mapConcurrencyError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapConcurrencyError(errors.Wrap(err, "commit tx"))
	}
	return nil
}

// mapConcurrencyError converts Postgres concurrency failure codes into the
// domain's retriable conflict error.
func mapConcurrencyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return order.ErrConflict
		}
	}
	return err
}
