package partitioner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Context keys written by FlatFilePartitioner and honoured by the flat file reader.
const (
	StartAtKey    = "startAt"
	ItemsCountKey = "itemsCount"
	ResourceKey   = "resource"
)

// FlatFilePartitionPrefix starts the name of every FlatFilePartitioner partition.
const FlatFilePartitionPrefix = "partition-"

// FlatFilePartitioner splits one line-oriented object into at most gridSize contiguous slices.
// Each slice starts on a line boundary; a slice is closed as soon as it holds more than
// size/gridSize bytes, and the last slice takes whatever remains. Partition names are
// FlatFilePartitionPrefix followed by the index zero-padded to the width of gridSize
// ("partition-07" for a grid of 12).
type FlatFilePartitioner struct {
	conn   storage.Connection
	bucket string
	object string
}

func NewFlatFilePartitioner(conn storage.Connection, bucket, object string) *FlatFilePartitioner {
	return &FlatFilePartitioner{conn: conn, bucket: bucket, object: object}
}

func (p *FlatFilePartitioner) Partition(ctx context.Context, gridSize int) (map[string]*model.ExecutionContext, error) {
	if gridSize < 1 {
		return nil, exception.NewBatchErrorf("partitioner", "gridSize must be at least 1, got %d", gridSize)
	}
	size, err := p.conn.Size(ctx, p.bucket, p.object)
	if err != nil {
		return nil, exception.NewBatchError("partitioner", fmt.Sprintf("failed to stat '%s'", p.object), err, false, true)
	}
	partitions := make(map[string]*model.ExecutionContext)
	if size == 0 {
		logger.Warnf("FlatFilePartitioner: '%s' is empty; no partitions.", p.object)
		return partitions, nil
	}

	r, err := p.conn.Download(ctx, p.bucket, p.object)
	if err != nil {
		return nil, exception.NewBatchError("partitioner", fmt.Sprintf("failed to open '%s'", p.object), err, false, true)
	}
	defer r.Close()

	threshold := size / int64(gridSize)
	width := len(strconv.Itoa(gridSize))
	var (
		index             int
		startAt, consumed int64
		count             int64
	)
	emit := func() {
		ec := model.NewExecutionContext()
		ec.Put(StartAtKey, startAt)
		ec.Put(ItemsCountKey, count)
		ec.Put(ResourceKey, p.object)
		partitions[fmt.Sprintf("%s%0*d", FlatFilePartitionPrefix, width, index)] = ec
		index++
		startAt += consumed
		consumed, count = 0, 0
	}
	err = scanLines(r, func(length int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		consumed += length
		count++
		if index < gridSize-1 && consumed > threshold {
			emit()
		}
		return nil
	})
	if err != nil {
		return nil, exception.NewBatchError("partitioner", fmt.Sprintf("failed to scan '%s'", p.object), err, false, true)
	}
	if count > 0 {
		emit()
	}
	logger.Infof("FlatFilePartitioner: split '%s' (%d bytes) into %d partition(s).", p.object, size, len(partitions))
	return partitions, nil
}

var _ port.Partitioner = (*FlatFilePartitioner)(nil)

// CountLines returns the number of lines in r. A final line without a terminator counts.
func CountLines(r io.Reader) (int64, error) {
	var n int64
	err := scanLines(r, func(int64) error {
		n++
		return nil
	})
	return n, err
}

// scanLines calls fn with the byte length of every line in r, terminator included.
func scanLines(r io.Reader, fn func(length int64) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var length int64
	for {
		chunk, err := br.ReadSlice('\n')
		length += int64(len(chunk))
		switch {
		case err == nil:
			if err := fn(length); err != nil {
				return err
			}
			length = 0
		case errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			if length > 0 {
				return fn(length)
			}
			return nil
		default:
			return err
		}
	}
}
