package sql

import (
	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Params are the inputs of NewSQLRepository.
type Params struct {
	fx.In
	Config      *config.Config
	Connections *gormadapter.Connections
}

// Result is the job repository together with the transaction manager of the same
// connection, so chunk transactions cover the checkpoint writes.
type Result struct {
	fx.Out
	JobRepository repository.JobRepository
	TxManager     tx.TransactionManager
}

// NewSQLRepository opens the connection named by job_repository_db_ref, migrates the
// schema when migrate_on_start is set and returns the repository.
func NewSQLRepository(p Params) (Result, error) {
	infra := p.Config.Chunkflow.Infrastructure
	conn, err := p.Connections.Get(infra.JobRepositoryDBRef)
	if err != nil {
		return Result{}, err
	}
	if infra.MigrateOnStart {
		if err := Migrate(conn.DB(), conn.Type()); err != nil {
			return Result{}, err
		}
	}
	logger.Infof("Using SQL job repository on connection '%s'.", conn.Name())
	return Result{
		JobRepository: NewJobRepository(conn.DB()),
		TxManager:     gormadapter.NewTransactionManager(conn.DB()),
	}, nil
}

// Module provides the SQL job repository and its transaction manager. It requires
// gormadapter.Module.
var Module = fx.Module("sql-repository",
	fx.Provide(NewSQLRepository),
)
