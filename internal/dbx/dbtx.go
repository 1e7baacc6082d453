// Package dbx holds the database/sql helpers shared by the local SQLite
// stores.
package dbx

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

// InTx runs fn inside a transaction on db. The transaction is committed when
// fn returns nil and rolled back otherwise; a failed rollback is joined to
// fn's error. A panic in fn rolls back and is re-raised.
func InTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, q Querier) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbErr := tx.Rollback()
		if p := recover(); p != nil {
			panic(p)
		}
		if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// ExecEach runs query once per argument set, stopping at the first failure.
func ExecEach(ctx context.Context, q Querier, query string, argSets ...[]any) error {
	for i, args := range argSets {
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("exec %d of %d: %w", i+1, len(argSets), err)
		}
	}
	return nil
}
