// Package tx provides the unit-of-work boundary shared by the packing and
// custody services. A Runner executes a callback atomically; postgres stores
// pick the active *sql.Tx out of the context so the callback needs no
// transaction-aware store variants.
package tx

import (
	"context"
	"database/sql"
)

// Runner executes fn inside a unit of work. Nested wraps a best-effort step
// whose failure must not poison the surrounding unit of work.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	Nested(ctx context.Context, fn func(ctx context.Context) error) error
}

type ctxKey struct{}

var txKey = ctxKey{}

type shardKey struct{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// WithShardKey names the aggregate a unit of work is about (a manifest or
// form ID). The in-memory runner serializes work per key.
func WithShardKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, shardKey{}, key)
}

func shardKeyFrom(ctx context.Context) string {
	if key, ok := ctx.Value(shardKey{}).(string); ok {
		return key
	}
	return ""
}

// Executor is the subset of *sql.DB and *sql.Tx used by stores.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ExecutorFrom returns the transaction bound to ctx, or db when none is.
func ExecutorFrom(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := From(ctx); ok {
		return tx
	}
	return db
}
