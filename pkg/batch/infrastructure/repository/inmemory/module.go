package inmemory

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// Module provides the in-memory JobRepository with the resourceless transaction manager.
var Module = fx.Module("inmemory-repository",
	fx.Provide(
		fx.Annotate(NewJobRepository, fx.As(new(repository.JobRepository))),
		tx.NewResourcelessTransactionManager,
	),
)
