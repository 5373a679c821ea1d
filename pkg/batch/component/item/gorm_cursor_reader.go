package item

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"gorm.io/gorm"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// GormCursorItemReader streams the rows of a query and scans each into a T with GORM.
// The query should be ordered: on restart the reader skips as many rows as it had read.
type GormCursorItemReader[T any] struct {
	name  string
	db    *gorm.DB
	query string
	args  []interface{}

	mu    sync.Mutex
	rows  *sql.Rows
	count int64
}

func NewGormCursorItemReader[T any](name string, db *gorm.DB, query string, args ...interface{}) *GormCursorItemReader[T] {
	return &GormCursorItemReader[T]{name: name, db: db, query: query, args: args}
}

func (r *GormCursorItemReader[T]) Open(ctx context.Context, ec *model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.WithContext(ctx).Raw(r.query, r.args...).Rows()
	if err != nil {
		return exception.NewBatchError("reader", fmt.Sprintf("GormCursorItemReader '%s': query failed", r.name), err, false, true)
	}
	r.rows = rows
	r.count = 0

	restored := ec.GetInt64OrDefault(ReadCountKey(r.name), 0)
	for r.count < restored && rows.Next() {
		r.count++
	}
	if err := rows.Err(); err != nil {
		return exception.NewBatchError("reader", fmt.Sprintf("GormCursorItemReader '%s': failed to restore position", r.name), err, false, false)
	}
	if restored > 0 {
		logger.Infof("GormCursorItemReader '%s': resumed after %d row(s).", r.name, r.count)
	}
	return nil
}

func (r *GormCursorItemReader[T]) Read(ctx context.Context) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var item T
	if r.rows == nil {
		return item, exception.NewBatchErrorf("reader", "GormCursorItemReader '%s': not open", r.name)
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return item, exception.NewBatchError("reader", fmt.Sprintf("GormCursorItemReader '%s': iteration failed", r.name), err, false, true)
		}
		return item, port.ErrNoMoreItems
	}
	r.count++
	if err := r.db.ScanRows(r.rows, &item); err != nil {
		return item, exception.NewBatchError("reader", fmt.Sprintf("GormCursorItemReader '%s': failed to scan row %d", r.name, r.count), err, true, false)
	}
	return item, nil
}

func (r *GormCursorItemReader[T]) Update(ctx context.Context, ec *model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ec.Put(ReadCountKey(r.name), r.count)
	return nil
}

func (r *GormCursorItemReader[T]) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	return err
}

var (
	_ port.ItemReader[any] = (*GormCursorItemReader[any])(nil)
	_ port.ItemStream      = (*GormCursorItemReader[any])(nil)
)
