package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const moduleName = "config"

// LoadConfig builds a Config from defaults, the YAML content, and the environment.
//
// Order of precedence, lowest first: NewConfig defaults, YAML (after ${VAR} expansion),
// environment variables named after the yaml path under "chunkflow" (e.g. BATCH_CHUNK_SIZE,
// BATCH_ITEM_SKIP_SKIP_LIMIT, SYSTEM_LOGGING_LEVEL). envFilePath, if set, is loaded into the
// environment first; otherwise a .env in the working directory is tried.
func LoadConfig(envFilePath string, content EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found: %v", err)
	}

	cfg := NewConfig()
	cfg.EmbeddedConfig = content

	expanded, err := NewOsEnvironmentExpander().Expand(content)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment variables in config", err, false, false)
	}
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal config", err, false, false)
	}
	if cfg.Chunkflow.AdapterConfigs == nil {
		cfg.Chunkflow.AdapterConfigs = map[string]interface{}{}
	}

	if err := loadStructFromEnv(reflect.ValueOf(&cfg.Chunkflow).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads path and calls LoadConfig.
func LoadConfigFile(envFilePath, path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to read config file '%s'", path), err, false, false)
	}
	return LoadConfig(envFilePath, content)
}

// Validate checks value ranges and that every configured error name is registered.
func Validate(cfg *Config) error {
	b := cfg.Chunkflow.Batch
	if b.ChunkSize < 0 {
		return exception.NewBatchErrorf(moduleName, "chunk_size must not be negative, got %d", b.ChunkSize)
	}
	if b.ItemSkip.SkipLimit < 0 {
		return exception.NewBatchErrorf(moduleName, "item_skip.skip_limit must not be negative, got %d", b.ItemSkip.SkipLimit)
	}
	if b.ItemRetry.MaxAttempts < 0 {
		return exception.NewBatchErrorf(moduleName, "item_retry.max_attempts must not be negative, got %d", b.ItemRetry.MaxAttempts)
	}
	switch b.Partition.Handler {
	case "", PartitionHandlerLocal, PartitionHandlerRemote:
	default:
		return exception.NewBatchErrorf(moduleName, "unknown partition handler '%s'", b.Partition.Handler)
	}
	if err := checkExceptionClasses(b.ItemRetry.RetryableExceptions, "item_retry"); err != nil {
		return err
	}
	if err := checkExceptionClasses(b.ItemSkip.SkippableExceptions, "item_skip"); err != nil {
		return err
	}
	return checkExceptionClasses(b.ItemSkip.FatalExceptions, "item_skip.fatal_exceptions")
}

func checkExceptionClasses(names []string, section string) error {
	for _, name := range names {
		if name == exception.AnyError {
			continue
		}
		if !exception.IsErrorTypeRegistered(name) {
			return exception.NewBatchErrorf(moduleName, "%s references unknown error type '%s'; register it with exception.RegisterErrorType", section, name)
		}
	}
	return nil
}

// loadStructFromEnv walks val and overrides every leaf whose environment variable, built from
// the upper-cased yaml path joined with "_", is set.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		envName := strings.ToUpper(prefix + tag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envName, err)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
