// Package tx provides the transaction boundary used around one chunk. The engine only
// begins, commits and rolls back; the resource behind a Tx (a database transaction, a staged
// file, nothing at all) is supplied by an adapter.
package tx

import (
	"context"
	"database/sql"
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Synchronization receives the outcome of a transaction. Resources that cannot join a
// database transaction (files, object storage) stage their work and finish or discard it here.
type Synchronization interface {
	// AfterCommit is called once the transaction has committed.
	AfterCommit(ctx context.Context) error
	// AfterRollback is called once the transaction has rolled back.
	AfterRollback(ctx context.Context) error
}

// Tx represents an ongoing transaction.
type Tx interface {
	// RegisterSynchronization adds a callback notified after commit or rollback.
	RegisterSynchronization(s Synchronization)
	// Synchronizations returns the callbacks registered so far, in registration order.
	Synchronizations() []Synchronization
}

// TransactionManager manages the lifecycle of transactions (begin, commit, rollback).
type TransactionManager interface {
	// Begin starts a new transaction.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit commits t and notifies its synchronizations.
	Commit(ctx context.Context, t Tx) error
	// Rollback rolls t back and notifies its synchronizations.
	Rollback(ctx context.Context, t Tx) error
}

type txKey struct{}

// WithTx returns a copy of ctx carrying t. Repositories and writers that share the
// transaction's resource pick it up with FromContext.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// FromContext returns the transaction bound to ctx, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txKey{}).(Tx)
	return t, ok && t != nil
}

// SynchronizationRegistry is embeddable bookkeeping for Tx implementations.
type SynchronizationRegistry struct {
	mu    sync.Mutex
	syncs []Synchronization
}

// RegisterSynchronization implements Tx.
func (r *SynchronizationRegistry) RegisterSynchronization(s Synchronization) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncs = append(r.syncs, s)
}

// Synchronizations implements Tx.
func (r *SynchronizationRegistry) Synchronizations() []Synchronization {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Synchronization, len(r.syncs))
	copy(out, r.syncs)
	return out
}

// TriggerAfterCommit notifies every synchronization of t about a commit. All callbacks run;
// the first error is returned.
func TriggerAfterCommit(ctx context.Context, t Tx) error {
	var first error
	for _, s := range t.Synchronizations() {
		if err := s.AfterCommit(ctx); err != nil {
			logger.Errorf("Transaction synchronization failed after commit: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// TriggerAfterRollback notifies every synchronization of t about a rollback. Errors are logged.
func TriggerAfterRollback(ctx context.Context, t Tx) {
	for _, s := range t.Synchronizations() {
		if err := s.AfterRollback(ctx); err != nil {
			logger.Warnf("Transaction synchronization failed after rollback: %v", err)
		}
	}
}
