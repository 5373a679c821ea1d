package item

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// GormItemWriter inserts items with GORM inside the chunk transaction. With conflict columns
// it upserts: conflicting rows get updateColumns overwritten, or are left alone when
// updateColumns is empty.
type GormItemWriter[T any] struct {
	name            string
	db              *gorm.DB
	table           string
	batchSize       int
	conflictColumns []string
	updateColumns   []string
}

// GormWriterOption configures a GormItemWriter.
type GormWriterOption func(*gormWriterOptions)

type gormWriterOptions struct {
	table           string
	batchSize       int
	conflictColumns []string
	updateColumns   []string
}

// WithTable writes to table instead of the one GORM derives from T.
func WithTable(table string) GormWriterOption {
	return func(o *gormWriterOptions) { o.table = table }
}

// WithBatchSize limits the rows per INSERT statement.
func WithBatchSize(n int) GormWriterOption {
	return func(o *gormWriterOptions) { o.batchSize = n }
}

// WithUpsert turns inserts into upserts on conflictColumns.
func WithUpsert(conflictColumns []string, updateColumns ...string) GormWriterOption {
	return func(o *gormWriterOptions) {
		o.conflictColumns = conflictColumns
		o.updateColumns = updateColumns
	}
}

// NewGormItemWriter creates a writer named name. db is used only when the chunk does not run
// in a GORM transaction.
func NewGormItemWriter[T any](name string, db *gorm.DB, opts ...GormWriterOption) *GormItemWriter[T] {
	o := gormWriterOptions{batchSize: 100}
	for _, opt := range opts {
		opt(&o)
	}
	if o.batchSize < 1 {
		o.batchSize = 100
	}
	return &GormItemWriter[T]{
		name:            name,
		db:              db,
		table:           o.table,
		batchSize:       o.batchSize,
		conflictColumns: o.conflictColumns,
		updateColumns:   o.updateColumns,
	}
}

func (w *GormItemWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}
	db := gormadapter.DBFromContext(ctx, w.db)
	if gt, ok := t.(*gormadapter.Tx); ok {
		db = gt.DB().WithContext(ctx)
	} else {
		logger.Debugf("GormItemWriter '%s': chunk transaction is %T; writing outside it.", w.name, t)
	}
	if w.table != "" {
		db = db.Table(w.table)
	}
	if len(w.conflictColumns) > 0 {
		onConflict := clause.OnConflict{Columns: make([]clause.Column, 0, len(w.conflictColumns))}
		for _, c := range w.conflictColumns {
			onConflict.Columns = append(onConflict.Columns, clause.Column{Name: c})
		}
		if len(w.updateColumns) > 0 {
			onConflict.DoUpdates = clause.AssignmentColumns(w.updateColumns)
		} else {
			onConflict.DoNothing = true
		}
		db = db.Clauses(onConflict)
	}

	if err := db.CreateInBatches(items, w.batchSize).Error; err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("GormItemWriter '%s': failed to write %d item(s)", w.name, len(items)), err, false, false)
	}
	logger.Debugf("GormItemWriter '%s': wrote %d item(s).", w.name, len(items))
	return nil
}

var _ port.ItemWriter[any] = (*GormItemWriter[any])(nil)
