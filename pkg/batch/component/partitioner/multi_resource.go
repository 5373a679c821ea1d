package partitioner

import (
	"context"
	"fmt"
	"path"
	"sort"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefaultResourceKey is the context key under which MultiResourcePartitioner stores the object name.
const DefaultResourceKey = "fileName"

// MultiResourcePartitioner creates one partition per object found under a prefix of a storage
// bucket. gridSize is ignored. Objects are assigned to partition0..N-1 in lexical order, so a
// restart over an unchanged bucket produces the same plan.
type MultiResourcePartitioner struct {
	conn    storage.Connection
	bucket  string
	prefix  string
	pattern string
	key     string
}

// MultiResourceOption configures a MultiResourcePartitioner.
type MultiResourceOption func(*MultiResourcePartitioner)

// WithPattern keeps only objects whose base name matches a path.Match pattern such as "*.csv".
func WithPattern(pattern string) MultiResourceOption {
	return func(p *MultiResourcePartitioner) { p.pattern = pattern }
}

// WithResourceKey overrides DefaultResourceKey.
func WithResourceKey(key string) MultiResourceOption {
	return func(p *MultiResourcePartitioner) { p.key = key }
}

func NewMultiResourcePartitioner(conn storage.Connection, bucket, prefix string, opts ...MultiResourceOption) *MultiResourcePartitioner {
	p := &MultiResourcePartitioner{conn: conn, bucket: bucket, prefix: prefix, key: DefaultResourceKey}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MultiResourcePartitioner) Partition(ctx context.Context, gridSize int) (map[string]*model.ExecutionContext, error) {
	if p.pattern != "" {
		if _, err := path.Match(p.pattern, ""); err != nil {
			return nil, exception.NewBatchError("partitioner", fmt.Sprintf("invalid pattern '%s'", p.pattern), err, false, false)
		}
	}

	var names []string
	err := p.conn.ListObjects(ctx, p.bucket, p.prefix, func(objectName string) error {
		if p.pattern != "" {
			if ok, _ := path.Match(p.pattern, path.Base(objectName)); !ok {
				return nil
			}
		}
		names = append(names, objectName)
		return nil
	})
	if err != nil {
		return nil, exception.NewBatchError("partitioner", "failed to list resources", err, false, true)
	}
	sort.Strings(names)

	partitions := make(map[string]*model.ExecutionContext, len(names))
	for i, name := range names {
		ec := model.NewExecutionContext()
		ec.Put(p.key, name)
		partitions[model.PartitionName(i)] = ec
	}
	logger.Infof("MultiResourcePartitioner: %d resource(s) under '%s/%s'.", len(names), p.bucket, p.prefix)
	return partitions, nil
}

var _ port.Partitioner = (*MultiResourcePartitioner)(nil)
