package tx

import (
	"context"
	"database/sql"
)

// ResourcelessTx is a transaction that guards no resource. Only its synchronizations run.
type ResourcelessTx struct {
	SynchronizationRegistry
}

// ResourcelessTransactionManager is used when the item pipeline and the checkpoint store are
// not transactional, e.g. with the in-memory repository.
type ResourcelessTransactionManager struct{}

// NewResourcelessTransactionManager creates a ResourcelessTransactionManager.
func NewResourcelessTransactionManager() TransactionManager {
	return &ResourcelessTransactionManager{}
}

// Begin implements TransactionManager.
func (m *ResourcelessTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	return &ResourcelessTx{}, nil
}

// Commit implements TransactionManager.
func (m *ResourcelessTransactionManager) Commit(ctx context.Context, t Tx) error {
	return TriggerAfterCommit(ctx, t)
}

// Rollback implements TransactionManager.
func (m *ResourcelessTransactionManager) Rollback(ctx context.Context, t Tx) error {
	TriggerAfterRollback(ctx, t)
	return nil
}
