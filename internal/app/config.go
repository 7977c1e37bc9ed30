package app

import (
	"github.com/yungbote/rewatch-backend/internal/platform/envutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

// Config holds the process-level knobs. Client-specific env (captions,
// vector index, Temporal, Redis, GCS) is resolved by each client's own
// ResolveConfigFromEnv so wiring stays a pass-through.
type Config struct {
	Environment string
	Version     string
	Port        string

	// Role flags. An API pod runs with RUN_SERVER=true, a worker pod with
	// RUN_WORKER=true; a single-box deployment sets both.
	RunServer bool
	RunWorker bool
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
		Port:        envutil.String("PORT", "8080"),
		RunServer:   envutil.Bool("RUN_SERVER", true),
		RunWorker:   envutil.Bool("RUN_WORKER", false),
	}
	log.Info("Loaded config",
		"environment", cfg.Environment,
		"version", cfg.Version,
		"port", cfg.Port,
		"run_server", cfg.RunServer,
		"run_worker", cfg.RunWorker,
	)
	return cfg
}
