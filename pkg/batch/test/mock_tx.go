// Package test holds fixtures shared by the package tests: transaction managers that can be
// told to fail, scripted item readers and writers, and model builders.
package test

import (
	"context"
	"database/sql"
	"sync"

	"github.com/stretchr/testify/mock"

	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// MockTx is a tx.Tx without a resource.
type MockTx struct {
	tx.SynchronizationRegistry
}

// MockTxManager is a testify mock of tx.TransactionManager. Commit and Rollback also run the
// synchronizations of the transaction, like a real manager.
type MockTxManager struct {
	mock.Mock
}

// Begin mocks tx.TransactionManager.Begin.
func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx)
	t, _ := args.Get(0).(tx.Tx)
	return t, args.Error(1)
}

// Commit mocks tx.TransactionManager.Commit.
func (m *MockTxManager) Commit(ctx context.Context, t tx.Tx) error {
	args := m.Called(ctx, t)
	if err := args.Error(0); err != nil {
		tx.TriggerAfterRollback(ctx, t)
		return err
	}
	return tx.TriggerAfterCommit(ctx, t)
}

// Rollback mocks tx.TransactionManager.Rollback.
func (m *MockTxManager) Rollback(ctx context.Context, t tx.Tx) error {
	args := m.Called(ctx, t)
	tx.TriggerAfterRollback(ctx, t)
	return args.Error(0)
}

// CountingTxManager is a resourceless tx.TransactionManager that counts calls. CommitErr,
// when set, decides the outcome of each commit by its 1-based number.
type CountingTxManager struct {
	CommitErr func(n int) error

	mu        sync.Mutex
	begins    int
	commits   int
	rollbacks int
}

// Begin implements tx.TransactionManager.
func (m *CountingTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	m.mu.Lock()
	m.begins++
	m.mu.Unlock()
	return &MockTx{}, nil
}

// Commit implements tx.TransactionManager.
func (m *CountingTxManager) Commit(ctx context.Context, t tx.Tx) error {
	m.mu.Lock()
	m.commits++
	n := m.commits
	m.mu.Unlock()
	if m.CommitErr != nil {
		if err := m.CommitErr(n); err != nil {
			tx.TriggerAfterRollback(ctx, t)
			return err
		}
	}
	return tx.TriggerAfterCommit(ctx, t)
}

// Rollback implements tx.TransactionManager.
func (m *CountingTxManager) Rollback(ctx context.Context, t tx.Tx) error {
	m.mu.Lock()
	m.rollbacks++
	m.mu.Unlock()
	tx.TriggerAfterRollback(ctx, t)
	return nil
}

// Counts returns the number of begins, commit attempts and rollbacks.
func (m *CountingTxManager) Counts() (begins, commits, rollbacks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begins, m.commits, m.rollbacks
}
