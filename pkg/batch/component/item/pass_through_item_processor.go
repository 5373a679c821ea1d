package item

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// PassThroughItemProcessor returns every item unchanged.
type PassThroughItemProcessor[T any] struct{}

func NewPassThroughItemProcessor[T any]() *PassThroughItemProcessor[T] {
	return &PassThroughItemProcessor[T]{}
}

func (p *PassThroughItemProcessor[T]) Process(ctx context.Context, item T) (T, error) {
	return item, nil
}

// ProcessorFunc adapts a function to port.ItemProcessor. Returning a nil output filters the item.
type ProcessorFunc[I, O any] func(ctx context.Context, item I) (O, error)

func (f ProcessorFunc[I, O]) Process(ctx context.Context, item I) (O, error) {
	return f(ctx, item)
}

// CompositeItemProcessor chains processors; a nil result from any of them filters the item
// and stops the chain.
type CompositeItemProcessor struct {
	delegates []port.ItemProcessor[any, any]
}

func NewCompositeItemProcessor(delegates ...port.ItemProcessor[any, any]) *CompositeItemProcessor {
	return &CompositeItemProcessor{delegates: delegates}
}

func (p *CompositeItemProcessor) Process(ctx context.Context, item any) (any, error) {
	current := item
	for _, d := range p.delegates {
		out, err := d.Process(ctx, current)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		current = out
	}
	return current, nil
}

var (
	_ port.ItemProcessor[any, any] = (*PassThroughItemProcessor[any])(nil)
	_ port.ItemProcessor[any, any] = ProcessorFunc[any, any](nil)
	_ port.ItemProcessor[any, any] = (*CompositeItemProcessor)(nil)
)
