// Package config provides the configuration structures of the batch engine and the loader that
// fills them from YAML, a .env file and environment variables.
package config

// EmbeddedConfig holds the raw content of a YAML configuration file, typically embedded in main.
type EmbeddedConfig []byte

// LogLevel is the verbosity of log output.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// Partition handler kinds.
const (
	PartitionHandlerLocal  = "local"
	PartitionHandlerRemote = "remote"
)

// ItemRetryConfig holds item-level retry configuration. Intervals are in milliseconds.
type ItemRetryConfig struct {
	MaxAttempts         int      `yaml:"max_attempts"`         // Total attempts including the first one.
	InitialInterval     int      `yaml:"initial_interval"`     // Wait before the first retry.
	MaxInterval         int      `yaml:"max_interval"`         // Upper bound of the wait.
	Multiplier          float64  `yaml:"multiplier"`           // Growth factor of the wait between retries.
	RetryableExceptions []string `yaml:"retryable_exceptions"` // Registered error names, or "*".
}

// ItemSkipConfig holds item-level skip configuration.
type ItemSkipConfig struct {
	SkipLimit           int      `yaml:"skip_limit"`           // Maximum skips (read + process + write) per step execution.
	SkippableExceptions []string `yaml:"skippable_exceptions"` // Registered error names, or "*".
	FatalExceptions     []string `yaml:"fatal_exceptions"`     // Never retried or skipped.
}

// PartitionConfig holds settings of partitioned steps.
type PartitionConfig struct {
	GridSize           int    `yaml:"grid_size"`
	PoolSize           int    `yaml:"pool_size"`      // Concurrent partitions. 0 runs them one after another.
	QueueCapacity      int    `yaml:"queue_capacity"` // Partitions waiting for a worker before dispatch is rejected. -1 is unbounded.
	Handler            string `yaml:"handler"`        // "local" or "remote".
	PollIntervalMillis int    `yaml:"poll_interval_millis"`
	PollTimeoutMillis  int    `yaml:"poll_timeout_millis"` // 0 waits forever.
	// StopTimeoutMillis bounds the wait for remote partitions to stop after a stop request.
	// Partitions still running then are recorded STOPPED.
	StopTimeoutMillis int `yaml:"stop_timeout_millis"`
	// RemoteEndpoint is the base URL of the worker the remote handler submits partitions to.
	RemoteEndpoint string `yaml:"remote_endpoint"`
	// WorkerListenAddress makes this process accept remote partitions when set.
	WorkerListenAddress string `yaml:"worker_listen_address"`
}

// BatchConfig holds configuration specific to the batch processing engine.
type BatchConfig struct {
	// JobName is the default job name.
	JobName string `yaml:"job_name"`
	// ChunkSize is the commit interval of chunk-oriented steps. 0 commits only at the end of input.
	ChunkSize int `yaml:"chunk_size"`
	// StartLimit is how often a step may be started per job instance. 0 means unlimited.
	StartLimit int `yaml:"start_limit"`
	// AllowStartIfComplete lets a step that already completed run again on restart.
	AllowStartIfComplete bool            `yaml:"allow_start_if_complete"`
	ItemRetry            ItemRetryConfig `yaml:"item_retry"`
	ItemSkip             ItemSkipConfig  `yaml:"item_skip"`
	Partition            PartitionConfig `yaml:"partition"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// MaskedParameterKeys are job parameter keys whose values are never logged.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Backend string `yaml:"backend"` // "prometheus", "otel" or "noop".
	// AsyncBufferSize > 0 records through a buffered background worker.
	AsyncBufferSize int `yaml:"async_buffer_size"`
	// ListenAddress serves /metrics for the prometheus backend. Empty disables the endpoint.
	ListenAddress string `yaml:"listen_address"`
	// Exporter, Endpoint and Insecure configure the OTLP exporter of the otel backend.
	Exporter              string `yaml:"exporter"` // "otlp-grpc" or "otlp-http".
	Endpoint              string `yaml:"endpoint"`
	Insecure              bool   `yaml:"insecure"`
	ExportIntervalSeconds int    `yaml:"export_interval_seconds"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "otlp-grpc" or "otlp-http".
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	// JobRepositoryType is "sql" or "inmemory".
	JobRepositoryType string `yaml:"job_repository_type"`
	// JobRepositoryDBRef names the database connection of the SQL job repository.
	JobRepositoryDBRef string `yaml:"job_repository_db_ref"`
	// MigrateOnStart creates or upgrades the job repository schema at startup.
	MigrateOnStart bool          `yaml:"migrate_on_start"`
	Metrics        MetricsConfig `yaml:"metrics"`
	Tracing        TracingConfig `yaml:"tracing"`
}

// ChunkflowConfig holds everything under the "chunkflow" top-level key.
type ChunkflowConfig struct {
	Batch          BatchConfig          `yaml:"batch"`
	System         SystemConfig         `yaml:"system"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	// AdapterConfigs holds named adapter connections, decoded by each adapter:
	// "database" -> name -> DatabaseConfig, "storage" -> name -> StorageConfig.
	AdapterConfigs map[string]interface{} `yaml:"adapter"`
}

// Config is the root of the application configuration.
type Config struct {
	Chunkflow      ChunkflowConfig `yaml:"chunkflow"`
	EmbeddedConfig EmbeddedConfig  `yaml:"-"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Chunkflow: ChunkflowConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Batch: BatchConfig{
				ChunkSize: 10,
				ItemRetry: ItemRetryConfig{
					MaxAttempts:     1,
					InitialInterval: 100,
					MaxInterval:     10000,
					Multiplier:      2.0,
				},
				Partition: PartitionConfig{
					GridSize:           4,
					PoolSize:           4,
					QueueCapacity:      -1,
					Handler:            PartitionHandlerLocal,
					PollIntervalMillis: 1000,
					StopTimeoutMillis:  30000,
				},
			},
			Infrastructure: InfrastructureConfig{
				JobRepositoryType:  "sql",
				JobRepositoryDBRef: "metadata",
				MigrateOnStart:     true,
				Metrics:            MetricsConfig{Backend: "noop", Exporter: "otlp-grpc", ExportIntervalSeconds: 60},
				Tracing:            TracingConfig{Exporter: "otlp-grpc", ServiceName: "chunkflow", SampleRatio: 1.0},
			},
			AdapterConfigs: map[string]interface{}{},
		},
	}
}

// AdapterSection returns the named connections of one adapter kind ("database", "storage").
func (c *Config) AdapterSection(kind string) map[string]interface{} {
	raw, ok := c.Chunkflow.AdapterConfigs[kind]
	if !ok {
		return nil
	}
	switch section := raw.(type) {
	case map[string]interface{}:
		return section
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(section))
		for k, v := range section {
			if ks, ok := k.(string); ok {
				out[ks] = v
			}
		}
		return out
	default:
		return nil
	}
}
