package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	dErrors "custody/pkg/domain-errors"
)

// Postgres runs units of work in a single database transaction. A RunInTx
// call made while a transaction is already bound to ctx joins it.
type Postgres struct {
	db        *sql.DB
	timeout   time.Duration
	savepoint atomic.Uint64
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, timeout: defaultTxTimeout}
}

func (t *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Nested wraps fn in a savepoint so a failed best-effort step leaves the
// enclosing transaction usable. Outside a transaction fn runs as-is.
func (t *Postgres) Nested(ctx context.Context, fn func(ctx context.Context) error) error {
	sqlTx, ok := From(ctx)
	if !ok {
		return fn(ctx)
	}
	name := fmt.Sprintf("sp_%d", t.savepoint.Add(1))
	if _, err := sqlTx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	if err := fn(ctx); err != nil {
		if _, rbErr := sqlTx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("rollback to savepoint: %w (after %v)", rbErr, err)
		}
		return err
	}
	if _, err := sqlTx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
