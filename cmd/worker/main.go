package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tenderbase/procure-backend/internal/data/db"
	"github.com/tenderbase/procure-backend/internal/pipeline"
	"github.com/tenderbase/procure-backend/internal/pipeline/stages"
	"github.com/tenderbase/procure-backend/internal/platform/envutil"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
	"github.com/tenderbase/procure-backend/internal/queue"
	"github.com/tenderbase/procure-backend/internal/tracker"
)

// workerConfig is the optional YAML file named by WORKER_CONFIG. Absent keys
// fall back to env and then defaults.
type workerConfig struct {
	Steps       []string `yaml:"steps"`
	Concurrency int      `yaml:"concurrency"`
}

func loadWorkerConfig(path string) (*workerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg workerConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

func main() {
	_ = godotenv.Load()

	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	var q queue.Queue
	switch driver := envutil.Str("QUEUE_DRIVER", "redis"); driver {
	case "redis":
		q, err = queue.NewRedisQueue(log)
		if err != nil {
			log.Fatal("Redis queue init failed", "error", err)
		}
	case "memory":
		q = queue.NewMemoryQueue()
	default:
		log.Fatal("Unknown queue driver", "driver", driver)
	}

	stores := pipeline.NewStores(thePG, log)
	track := tracker.New(stores.Files, stores.Items, log)

	handlers := pipeline.NewHandlerRegistry()
	handlers.Register(stages.NewStore(stages.NewJSONReader()))
	handlers.Register(stages.NewCheck())
	handlers.Register(stages.NewUpgrade())
	handlers.Register(stages.NewCompile())

	steps := handlers.Names()
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if path := envutil.Str("WORKER_CONFIG", ""); path != "" {
		cfg, err := loadWorkerConfig(path)
		if err != nil {
			log.Fatal("Worker config load failed", "path", path, "error", err)
		}
		if len(cfg.Steps) > 0 {
			steps = cfg.Steps
		}
		if cfg.Concurrency > 0 {
			concurrency = cfg.Concurrency
		}
	}

	runner := pipeline.NewRunner(thePG, q, handlers, stores, track, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Worker starting", "steps", steps, "concurrency", concurrency)
	if err := runner.Start(ctx, steps, concurrency); err != nil {
		log.Fatal("Worker stopped with error", "error", err)
	}
	log.Info("Worker stopped")
}
