package item

import (
	"context"
	"fmt"
	"reflect"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// Chunk steps move items as any. AnyReader, AnyProcessor and AnyWriter lift typed
// components to that form and forward ItemStream calls to the delegate when it has them.

type anyReader[T any] struct {
	streamDelegate
	delegate port.ItemReader[T]
}

// AnyReader adapts a typed reader for use in a chunk step.
func AnyReader[T any](r port.ItemReader[T]) port.ItemReader[any] {
	return &anyReader[T]{streamDelegate: streamDelegate{r}, delegate: r}
}

func (a *anyReader[T]) Read(ctx context.Context) (any, error) {
	item, err := a.delegate.Read(ctx)
	if err != nil {
		return nil, err
	}
	return item, nil
}

type anyProcessor[I, O any] struct {
	streamDelegate
	delegate port.ItemProcessor[I, O]
}

// AnyProcessor adapts a typed processor. A nil pointer, map, slice or interface result still
// filters the item.
func AnyProcessor[I, O any](p port.ItemProcessor[I, O]) port.ItemProcessor[any, any] {
	return &anyProcessor[I, O]{streamDelegate: streamDelegate{p}, delegate: p}
}

func (a *anyProcessor[I, O]) Process(ctx context.Context, item any) (any, error) {
	in, ok := item.(I)
	if !ok {
		var want I
		return nil, fmt.Errorf("processor expects %T, got %T", want, item)
	}
	out, err := a.delegate.Process(ctx, in)
	if err != nil {
		return nil, err
	}
	if isNil(any(out)) {
		return nil, nil
	}
	return out, nil
}

type anyWriter[T any] struct {
	streamDelegate
	delegate port.ItemWriter[T]
}

// AnyWriter adapts a typed writer for use in a chunk step.
func AnyWriter[T any](w port.ItemWriter[T]) port.ItemWriter[any] {
	return &anyWriter[T]{streamDelegate: streamDelegate{w}, delegate: w}
}

func (a *anyWriter[T]) Write(ctx context.Context, t tx.Tx, items []any) error {
	typed := make([]T, 0, len(items))
	for _, item := range items {
		v, ok := item.(T)
		if !ok {
			var want T
			return fmt.Errorf("writer expects %T, got %T", want, item)
		}
		typed = append(typed, v)
	}
	return a.delegate.Write(ctx, t, typed)
}

type streamDelegate struct {
	target interface{}
}

func (s streamDelegate) Open(ctx context.Context, ec *model.ExecutionContext) error {
	if st, ok := s.target.(port.ItemStream); ok {
		return st.Open(ctx, ec)
	}
	return nil
}

func (s streamDelegate) Update(ctx context.Context, ec *model.ExecutionContext) error {
	if st, ok := s.target.(port.ItemStream); ok {
		return st.Update(ctx, ec)
	}
	return nil
}

func (s streamDelegate) Close(ctx context.Context) error {
	if st, ok := s.target.(port.ItemStream); ok {
		return st.Close(ctx)
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
