// Package item provides the reusable readers, processors and writers of a chunk step: in-memory
// lists, line-oriented files in object storage, GORM queries and tables, and Parquet output.
//
// Restartable readers store their position in the step ExecutionContext under
// "<name>.read.count" and resume from it on Open.
package item

import (
	"context"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// ReadCountKey returns the ExecutionContext key holding the position of the reader named name.
func ReadCountKey(name string) string {
	return name + ".read.count"
}

// ListItemReader reads a fixed slice of items.
type ListItemReader[T any] struct {
	name  string
	items []T

	mu   sync.Mutex
	next int
}

func NewListItemReader[T any](name string, items []T) *ListItemReader[T] {
	return &ListItemReader[T]{name: name, items: items}
}

func (r *ListItemReader[T]) Open(ctx context.Context, ec *model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = int(ec.GetInt64OrDefault(ReadCountKey(r.name), 0))
	if r.next > len(r.items) {
		r.next = len(r.items)
	}
	return nil
}

func (r *ListItemReader[T]) Read(ctx context.Context) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if r.next >= len(r.items) {
		return zero, port.ErrNoMoreItems
	}
	item := r.items[r.next]
	r.next++
	return item, nil
}

func (r *ListItemReader[T]) Update(ctx context.Context, ec *model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ec.Put(ReadCountKey(r.name), int64(r.next))
	return nil
}

func (r *ListItemReader[T]) Close(ctx context.Context) error { return nil }

var (
	_ port.ItemReader[any] = (*ListItemReader[any])(nil)
	_ port.ItemStream      = (*ListItemReader[any])(nil)
)
