package config

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Params are the inputs of NewConfigProvider.
type Params struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// NewConfigProvider loads the Config and applies the configured log level.
func NewConfigProvider(p Params) (*Config, error) {
	cfg, err := LoadConfig(p.EnvFilePath, p.EmbeddedConfig)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.Chunkflow.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Chunkflow.System.Logging.Level)
	return cfg, nil
}

// NewBatchConfigProvider exposes the batch section on its own.
func NewBatchConfigProvider(cfg *Config) *BatchConfig {
	return &cfg.Chunkflow.Batch
}

// Module provides *Config and *BatchConfig. The application supplies EmbeddedConfig.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewBatchConfigProvider),
)
