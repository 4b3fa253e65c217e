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
		collArg = flag.String("collection", "", "id of the collection to close")
		del     = flag.Bool("delete", false, "soft-delete the collection instead of closing it")
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

	if *del {
		if err := reg.SoftDelete(ctx, collectionID); err != nil {
			log.Fatal("Delete failed", "error", err)
		}
		log.Info("Collection marked for deletion", "collection_id", collectionID)
		return
	}

	alreadyClosed, err := reg.Close(ctx, collectionID)
	if err != nil {
		log.Fatal("Close failed", "error", err)
	}
	if alreadyClosed {
		log.Info("Collection was already closed", "collection_id", collectionID)
		return
	}
	log.Info("Collection closed", "collection_id", collectionID)
}
