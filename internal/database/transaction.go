package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultTxTimeout bounds every transaction run through a TransactionManager.
const DefaultTxTimeout = 30 * time.Second

type TransactionManager struct {
	db      *sql.DB
	timeout time.Duration
}

func NewTransactionManager(db *sql.DB) *TransactionManager {
	return &TransactionManager{db: db, timeout: DefaultTxTimeout}
}

// Execute runs fn within a serializable transaction. fn's error is returned
// unchanged after rollback so callers can match sentinels.
func (tm *TransactionManager) Execute(ctx context.Context, fn func(*sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, tm.timeout)
	defer cancel()

	tx, err := tm.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
