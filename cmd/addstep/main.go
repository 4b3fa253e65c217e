package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tenderbase/procure-backend/internal/data/db"
	"github.com/tenderbase/procure-backend/internal/pipeline"
	"github.com/tenderbase/procure-backend/internal/platform/envutil"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
	"github.com/tenderbase/procure-backend/internal/queue"
	"github.com/tenderbase/procure-backend/internal/registry"
)

func main() {
	_ = godotenv.Load()

	var (
		collArg = flag.String("collection", "", "id of the collection to reconfigure")
		step    = flag.String("step", "", "step to append to the collection's configuration")
		redrive = flag.Bool("redrive", false, "republish the first pending step of every open file instead of adding a step")
	)
	flag.Parse()

	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	collectionID, err := uuid.Parse(*collArg)
	if err != nil {
		log.Fatal("Invalid collection id", "value", *collArg, "error", err)
	}

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	thePG := postgresService.DB()

	q, err := queue.NewRedisQueue(log)
	if err != nil {
		log.Fatal("Redis queue init failed", "error", err)
	}

	stores := pipeline.NewStores(thePG, log)
	reg := registry.New(thePG, stores.Collections, stores.Notes, stores.Steps, q, log)

	ctx := context.Background()

	if *redrive {
		republished, err := reg.Redrive(ctx, collectionID)
		if err != nil {
			log.Fatal("Redrive failed", "error", err)
		}
		log.Info("Redrive complete", "collection_id", collectionID, "republished", republished)
		return
	}

	enqueued, err := reg.AddStep(ctx, collectionID, *step)
	if err != nil {
		log.Fatal("Add step failed", "step", *step, "error", err)
	}
	log.Info("Step added", "collection_id", collectionID, "step", *step, "enqueued", enqueued)
}
