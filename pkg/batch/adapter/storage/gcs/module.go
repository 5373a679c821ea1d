package gcs

import (
	"go.uber.org/fx"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
)

// Module contributes the GCS provider to the "storage_providers" group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewProvider,
		fx.As(new(storage.Provider)),
		fx.ResultTags(`group:"storage_providers"`),
	)),
)
