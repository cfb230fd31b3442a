package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txContextKey struct{}

// WithTx stores tx on the context so repositories join it.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// Conn returns the transaction on ctx when present, otherwise the pool.
func Conn(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db
}

// UnitOfWork implements repositories.UnitOfWork with database/sql transactions.
type UnitOfWork struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewUnitOfWork constructs a UnitOfWork bound to db. Transactions run at READ COMMITTED unless
// opts says otherwise; row locks taken by repositories provide per-order isolation.
func NewUnitOfWork(db *sql.DB, opts *sql.TxOptions) *UnitOfWork {
	return &UnitOfWork{db: db, opts: opts}
}

// RunInTx begins a transaction, runs fn, and commits. The transaction is rolled back when fn
// returns an error or panics, and the connection is released on every path.
// Nested calls reuse the outer transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	if u == nil || u.db == nil {
		return errors.New("postgres: database is nil")
	}

	tx, err := u.db.BeginTx(ctx, u.opts)
	if err != nil {
		return WrapError("transaction.begin", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err == nil {
			err = WrapError("transaction.rollback", rbErr)
		}
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return WrapError("transaction.commit", fmt.Errorf("commit: %w", err))
	}
	committed = true
	return nil
}
