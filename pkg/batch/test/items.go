package test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// ErrTransient is returned for scripted temporary failures.
var ErrTransient = errors.New("transient failure")

// ListReader reads Items in order and keeps its position in the step context under
// "<Name>.read.count".
//
// Bad[i] makes the read of index i fail with that error; the item is consumed. Flaky[i]
// makes the read of index i fail with a rereadable ErrTransient that many times before it
// succeeds.
type ListReader struct {
	Name  string
	Items []any
	Bad   map[int]error
	Flaky map[int]int

	mu    sync.Mutex
	pos   int
	reads int
}

var (
	_ port.ItemReader[any] = (*ListReader)(nil)
	_ port.ItemStream      = (*ListReader)(nil)
)

// NewListReader creates a ListReader over items.
func NewListReader(name string, items ...any) *ListReader {
	return &ListReader{Name: name, Items: items, Bad: map[int]error{}, Flaky: map[int]int{}}
}

func (r *ListReader) key() string { return r.Name + ".read.count" }

// Open implements port.ItemStream.
func (r *ListReader) Open(ctx context.Context, ec *model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = int(ec.GetInt64OrDefault(r.key(), 0))
	return nil
}

// Update implements port.ItemStream.
func (r *ListReader) Update(ctx context.Context, ec *model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ec.Put(r.key(), int64(r.pos))
	return nil
}

// Close implements port.ItemStream.
func (r *ListReader) Close(ctx context.Context) error { return nil }

// Read implements port.ItemReader.
func (r *ListReader) Read(ctx context.Context) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.pos >= len(r.Items) {
		return nil, port.ErrNoMoreItems
	}
	if n := r.Flaky[r.pos]; n > 0 {
		r.Flaky[r.pos] = n - 1
		return nil, port.Rereadable(ErrTransient)
	}
	i := r.pos
	r.pos++
	if err, ok := r.Bad[i]; ok {
		return nil, err
	}
	return r.Items[i], nil
}

// Reads returns how many times Read was called, failed calls included.
func (r *ListReader) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

// Position returns the index of the next item.
func (r *ListReader) Position() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// FuncProcessor runs Fn and records every call.
type FuncProcessor struct {
	Fn func(ctx context.Context, item any) (any, error)

	mu    sync.Mutex
	calls []any
}

// Process implements port.ItemProcessor.
func (p *FuncProcessor) Process(ctx context.Context, item any) (any, error) {
	p.mu.Lock()
	p.calls = append(p.calls, item)
	p.mu.Unlock()
	if p.Fn == nil {
		return item, nil
	}
	return p.Fn(ctx, item)
}

// Calls returns the items passed to Process so far.
func (p *FuncProcessor) Calls() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.calls...)
}

// RecordingWriter records every write attempt and, through a transaction
// synchronization, the items whose transaction committed. Fail decides the outcome of an
// attempt; nil accepts everything.
type RecordingWriter struct {
	Fail func(items []any) error

	mu        sync.Mutex
	attempts  [][]any
	committed []any
}

// Write implements port.ItemWriter.
func (w *RecordingWriter) Write(ctx context.Context, t tx.Tx, items []any) error {
	batch := append([]any(nil), items...)
	w.mu.Lock()
	w.attempts = append(w.attempts, batch)
	w.mu.Unlock()
	if w.Fail != nil {
		if err := w.Fail(batch); err != nil {
			return err
		}
	}
	t.RegisterSynchronization(&commitRecorder{w: w, items: batch})
	return nil
}

// Attempts returns every batch passed to Write, including failed ones.
func (w *RecordingWriter) Attempts() [][]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]any(nil), w.attempts...)
}

// Committed returns the items whose transaction committed, in commit order.
func (w *RecordingWriter) Committed() []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]any(nil), w.committed...)
}

type commitRecorder struct {
	w     *RecordingWriter
	items []any
}

func (c *commitRecorder) AfterCommit(ctx context.Context) error {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	c.w.committed = append(c.w.committed, c.items...)
	return nil
}

func (c *commitRecorder) AfterRollback(ctx context.Context) error { return nil }

// FailOn returns a RecordingWriter.Fail that rejects any batch containing item.
func FailOn(item any, err error) func([]any) error {
	return func(items []any) error {
		for _, it := range items {
			if it == item {
				return fmt.Errorf("write %v: %w", item, err)
			}
		}
		return nil
	}
}

// Ints returns 1..n as items.
func Ints(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
