package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// Tx is a GORM transaction that also carries the synchronizations of non-transactional
// resources enlisted in the same chunk.
type Tx struct {
	tx.SynchronizationRegistry
	db *gorm.DB
}

// DB returns the transaction handle.
func (t *Tx) DB() *gorm.DB { return t.db }

// TransactionManager implements tx.TransactionManager over one database connection.
type TransactionManager struct {
	db *gorm.DB
}

// NewTransactionManager creates a TransactionManager for db.
func NewTransactionManager(db *gorm.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// Begin implements tx.TransactionManager.
func (m *TransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	var txOpts *sql.TxOptions
	if len(opts) > 0 {
		txOpts = opts[0]
	}
	gormTx := m.db.WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", gormTx.Error)
	}
	return &Tx{db: gormTx}, nil
}

// Commit implements tx.TransactionManager. Synchronizations run after the database commit
// succeeded.
func (m *TransactionManager) Commit(ctx context.Context, t tx.Tx) error {
	gt, ok := t.(*Tx)
	if !ok {
		return fmt.Errorf("invalid transaction type %T", t)
	}
	if err := gt.db.Commit().Error; err != nil {
		tx.TriggerAfterRollback(ctx, gt)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return tx.TriggerAfterCommit(ctx, gt)
}

// Rollback implements tx.TransactionManager.
func (m *TransactionManager) Rollback(ctx context.Context, t tx.Tx) error {
	gt, ok := t.(*Tx)
	if !ok {
		return fmt.Errorf("invalid transaction type %T", t)
	}
	err := gt.db.Rollback().Error
	tx.TriggerAfterRollback(ctx, gt)
	if err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

// DBFromContext returns the transaction handle bound to ctx when it belongs to a GORM
// transaction, and base bound to ctx otherwise.
func DBFromContext(ctx context.Context, base *gorm.DB) *gorm.DB {
	if t, ok := tx.FromContext(ctx); ok {
		if gt, ok := t.(*Tx); ok {
			return gt.db
		}
	}
	return base.WithContext(ctx)
}
