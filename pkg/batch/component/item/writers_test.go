package item_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

type customer struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "items.db")), &gorm.Config{Logger: gormadapter.NewGormLogger("")})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&customer{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func writeInTx(t *testing.T, db *gorm.DB, w *item.GormItemWriter[customer], items []customer, commit bool) error {
	t.Helper()
	ctx := context.Background()
	tm := gormadapter.NewTransactionManager(db)
	txn, err := tm.Begin(ctx)
	require.NoError(t, err)
	if err := w.Write(tx.WithTx(ctx, txn), txn, items); err != nil {
		require.NoError(t, tm.Rollback(ctx, txn))
		return err
	}
	if commit {
		return tm.Commit(ctx, txn)
	}
	return tm.Rollback(ctx, txn)
}

func countCustomers(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&customer{}).Count(&n).Error)
	return n
}

func TestGormItemWriter_WritesInChunkTransaction(t *testing.T) {
	db := newDB(t)
	w := item.NewGormItemWriter[customer]("customers", db, item.WithBatchSize(2))

	require.NoError(t, writeInTx(t, db, w, []customer{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}}, true))
	assert.Equal(t, int64(3), countCustomers(t, db))

	require.NoError(t, writeInTx(t, db, w, []customer{{ID: 4, Name: "d"}}, false))
	assert.Equal(t, int64(3), countCustomers(t, db))
}

func TestGormItemWriter_DuplicateKeyFails(t *testing.T) {
	db := newDB(t)
	w := item.NewGormItemWriter[customer]("customers", db)
	require.NoError(t, writeInTx(t, db, w, []customer{{ID: 1, Name: "a"}}, true))

	err := writeInTx(t, db, w, []customer{{ID: 1, Name: "again"}}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GormItemWriter 'customers'")
}

func TestGormItemWriter_Upsert(t *testing.T) {
	db := newDB(t)
	w := item.NewGormItemWriter[customer]("customers", db, item.WithUpsert([]string{"id"}, "name"))

	require.NoError(t, writeInTx(t, db, w, []customer{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}, true))
	require.NoError(t, writeInTx(t, db, w, []customer{{ID: 2, Name: "B"}, {ID: 3, Name: "c"}}, true))

	var got []customer
	require.NoError(t, db.Order("id").Find(&got).Error)
	assert.Equal(t, []customer{{ID: 1, Name: "a"}, {ID: 2, Name: "B"}, {ID: 3, Name: "c"}}, got)
}

func TestGormCursorItemReader_ResumesAfterReadCount(t *testing.T) {
	db := newDB(t)
	require.NoError(t, db.Create([]customer{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}, {ID: 4, Name: "d"}}).Error)

	r := item.NewGormCursorItemReader[customer]("cursor", db, "SELECT id, name FROM customers WHERE id > ? ORDER BY id", 0)
	ec := model.NewExecutionContext()
	ec.Put(item.ReadCountKey("cursor"), int64(2))
	require.NoError(t, r.Open(context.Background(), ec))

	got := readAll[customer](t, r)
	require.NoError(t, r.Update(context.Background(), ec))
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, []customer{{ID: 3, Name: "c"}, {ID: 4, Name: "d"}}, got)
	n, _ := ec.GetInt64("cursor.read.count")
	assert.Equal(t, int64(4), n)
}

type reading struct {
	Station string  `parquet:"name=station, type=BYTE_ARRAY, convertedtype=UTF8"`
	Day     string  `parquet:"name=day, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value   float64 `parquet:"name=value, type=DOUBLE"`
}

func byDay(r reading) (string, error) { return "dt=" + r.Day, nil }

func listObjects(t *testing.T, conn storage.Connection) []string {
	t.Helper()
	var names []string
	require.NoError(t, conn.ListObjects(context.Background(), "", "", func(name string) error {
		names = append(names, name)
		return nil
	}))
	return names
}

func TestParquetItemWriter_CommitKeepsFilesPerPartitionKey(t *testing.T) {
	conn := newStorage(t)
	w, err := item.NewParquetItemWriter[reading]("readings", conn, item.ParquetWriterConfig{OutputBaseDir: "export"}, byDay)
	require.NoError(t, err)

	tm := tx.NewResourcelessTransactionManager()
	txn, err := tm.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), txn, []reading{
		{Station: "a", Day: "2024-01-01", Value: 1.5},
		{Station: "b", Day: "2024-01-02", Value: 2.5},
		{Station: "c", Day: "2024-01-01", Value: 3.5},
	}))
	assert.Empty(t, w.Files())
	require.NoError(t, tm.Commit(context.Background(), txn))

	files := w.Files()
	require.Len(t, files, 2)
	assert.True(t, strings.HasPrefix(files[0], "export/dt=2024-01-01/readings-"))
	assert.True(t, strings.HasPrefix(files[1], "export/dt=2024-01-02/readings-"))
	assert.ElementsMatch(t, files, listObjects(t, conn))

	rc, err := conn.Download(context.Background(), "", files[0])
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
	assert.True(t, bytes.HasSuffix(data, []byte("PAR1")))
}

func TestParquetItemWriter_RollbackRemovesFiles(t *testing.T) {
	conn := newStorage(t)
	w, err := item.NewParquetItemWriterFromProperties[reading]("readings", conn, map[string]interface{}{
		"output_base_dir":  "export",
		"compression_type": "gzip",
	}, nil)
	require.NoError(t, err)

	tm := tx.NewResourcelessTransactionManager()
	txn, err := tm.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), txn, []reading{{Station: "a", Day: "2024-01-01", Value: 1}}))
	require.Len(t, listObjects(t, conn), 1)

	require.NoError(t, tm.Rollback(context.Background(), txn))
	assert.Empty(t, listObjects(t, conn))
	assert.Empty(t, w.Files())
}

func TestParquetItemWriter_RejectsUnknownCompression(t *testing.T) {
	_, err := item.NewParquetItemWriter[reading]("readings", newStorage(t), item.ParquetWriterConfig{CompressionType: "LZMA"}, nil)
	require.Error(t, err)
}
