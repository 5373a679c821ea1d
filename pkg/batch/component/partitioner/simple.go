// Package partitioner provides port.Partitioner implementations: fixed-size grids, one
// partition per stored resource, and byte-range slices of a single line-oriented file.
package partitioner

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// SimplePartitioner returns gridSize empty contexts named partition0..partitionN-1. Children
// that need no input slice of their own (for example readers that shard by a modulo) use it.
type SimplePartitioner struct{}

func NewSimplePartitioner() *SimplePartitioner {
	return &SimplePartitioner{}
}

func (p *SimplePartitioner) Partition(ctx context.Context, gridSize int) (map[string]*model.ExecutionContext, error) {
	logger.Debugf("SimplePartitioner: generating %d partitions.", gridSize)
	partitions := make(map[string]*model.ExecutionContext, gridSize)
	for i := 0; i < gridSize; i++ {
		partitions[model.PartitionName(i)] = model.NewExecutionContext()
	}
	return partitions, nil
}

// PartitionNames lists the same names Partition would produce.
func (p *SimplePartitioner) PartitionNames(ctx context.Context, gridSize int) ([]string, error) {
	names := make([]string, 0, gridSize)
	for i := 0; i < gridSize; i++ {
		names = append(names, model.PartitionName(i))
	}
	return names, nil
}

var (
	_ port.Partitioner           = (*SimplePartitioner)(nil)
	_ port.PartitionNameProvider = (*SimplePartitioner)(nil)
)
