package sql_test

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/chunkflow/pkg/batch/test"
	"github.com/tigerroll/chunkflow/pkg/batch/test/repositorytest"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gormadapter.Open(database.Config{Type: "sqlite", Database: filepath.Join(t.TempDir(), "meta.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	require.NoError(t, sqlrepo.Migrate(db, "sqlite"))
	return db
}

func TestJobRepositoryContract_SQLite(t *testing.T) {
	repositorytest.Run(t, func(t *testing.T) repository.JobRepository {
		return sqlrepo.NewJobRepository(openSQLite(t))
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	assert.NoError(t, sqlrepo.Migrate(db, "sqlite"))
}

func TestMigrateRejectsUnknownType(t *testing.T) {
	db := openSQLite(t)
	assert.Error(t, sqlrepo.Migrate(db, "oracle"))
}

func TestWritesJoinChunkTransaction(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	repo := sqlrepo.NewJobRepository(db)
	tm := gormadapter.NewTransactionManager(db)

	je := testutil.NewRunningJob(t, repo, "job")
	se := testutil.SaveStepExecution(t, repo, je, "load")

	txn, err := tm.Begin(ctx)
	require.NoError(t, err)
	txCtx := tx.WithTx(ctx, txn)

	se.Apply(&model.StepContribution{ReadCount: 10, WriteCount: 10, ExitStatus: model.ExitStatusExecuting})
	se.ExecutionContext.Put("reader.read.count", int64(10))
	require.NoError(t, repo.UpdateStepExecution(txCtx, se))
	require.NoError(t, repo.UpdateStepExecutionContext(txCtx, se))
	require.NoError(t, tm.Rollback(ctx, txn))

	loaded, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), loaded.ReadCount)
	assert.Equal(t, 0, loaded.Version)
	assert.False(t, loaded.ExecutionContext.ContainsKey("reader.read.count"))

	txn, err = tm.Begin(ctx)
	require.NoError(t, err)
	txCtx = tx.WithTx(ctx, txn)
	se.Version = loaded.Version
	require.NoError(t, repo.UpdateStepExecution(txCtx, se))
	require.NoError(t, tm.Commit(ctx, txn))

	loaded, err = repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), loaded.ReadCount)
	assert.Equal(t, 1, loaded.Version)
}

func TestUpdateStepExecution_StaleVersion(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 gormadapter.NewGormLogger(""),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "batch_step_execution" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := sqlrepo.NewJobRepository(db)
	se := model.NewStepExecution("se-1", nil, "load")
	se.JobExecutionID = "je-1"
	se.Version = 3

	err = repo.UpdateStepExecution(context.Background(), se)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
	assert.Equal(t, 3, se.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}
