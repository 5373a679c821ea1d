package main

import (
	_ "embed"
	"log"
	"os"

	"github.com/joho/godotenv"

	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"

	"github.com/tigerroll/chunkflow/example/partitioned-import/internal/app"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// embeddedConfig is the application configuration. ${VAR} references are expanded from the
// environment and the .env file at startup.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// envDefaults apply when neither the environment nor the .env file sets a variable. The .env
// file is loaded first because godotenv never overrides variables that are already set.
var envDefaults = map[string]string{
	"DATA_DIR":  "./data",
	"LOG_LEVEL": "INFO",
}

func main() {
	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}
	_ = godotenv.Load(envFilePath)
	for k, v := range envDefaults {
		if _, ok := os.LookupEnv(k); !ok {
			os.Setenv(k, v)
		}
	}
	if err := os.MkdirAll(os.Getenv("DATA_DIR"), 0o755); err != nil {
		log.Fatalf("cannot create data directory: %v", err)
	}

	// Run blocks until SIGINT/SIGTERM or until the job finishes, then exits with the job's code.
	app.New(envFilePath, config.EmbeddedConfig(embeddedConfig)).Run()
}
