package db

import (
	"context"
	"fmt"
)

type contextKey string

const txKey contextKey = "db_tx"

// WithTx returns a context carrying q as the active transaction.
func WithTx(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, txKey, q)
}

// TxFromContext returns the transaction stored by WithTx, or nil.
func TxFromContext(ctx context.Context) Querier {
	q, _ := ctx.Value(txKey).(Querier)
	return q
}

// Conn returns the transaction in ctx if there is one, otherwise pool.
func Conn(ctx context.Context, pool Querier) Querier {
	if q := TxFromContext(ctx); q != nil {
		return q
	}
	return pool
}

// InTx runs fn inside a transaction on pool. The transaction is committed when
// fn returns nil and rolled back otherwise. Repositories called with the
// context passed to fn join the transaction through Conn.
func InTx(ctx context.Context, pool Pool, fn func(ctx context.Context) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
