package connkit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
)

// TxFunc is a function executed within a transaction
type TxFunc func(tx bun.Tx) error

// Transaction executes fn within a transaction with automatic
// commit/rollback. A returned error or a panic rolls back; otherwise the
// transaction commits. The migration applier runs every unit through this.
func Transaction(ctx context.Context, db *bun.DB, fn TxFunc) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return wrapError(err, "Transaction.Begin")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("connkit: rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapError(err, "Transaction.Commit")
	}
	return nil
}

// ReadOnlyTransaction executes fn within a read-only transaction
func ReadOnlyTransaction(ctx context.Context, db *bun.DB, fn TxFunc) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return wrapError(err, "ReadOnlyTransaction.Begin")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return wrapError(tx.Commit(), "ReadOnlyTransaction.Commit")
}
