package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tenderbase/procure-backend/internal/data/db"
	"github.com/tenderbase/procure-backend/internal/loader"
	"github.com/tenderbase/procure-backend/internal/pipeline"
	"github.com/tenderbase/procure-backend/internal/platform/envutil"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
	"github.com/tenderbase/procure-backend/internal/queue"
	"github.com/tenderbase/procure-backend/internal/registry"
)

var dataVersionLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDataVersion(s string) (time.Time, error) {
	for _, layout := range dataVersionLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized data version %q", s)
}

func main() {
	_ = godotenv.Load()

	var (
		source     = flag.String("source", "", "source identifier for a new collection")
		versionArg = flag.String("time", "", "data version of a new collection (RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD')")
		sample     = flag.Bool("sample", false, "mark the new collection as a sample")
		note       = flag.String("note", "", "note recorded on the new collection")
		collArg    = flag.String("collection", "", "id of an existing open collection to load into")
		stepsArg   = flag.String("steps", "", "comma-separated steps to configure before accepting files")
		keepOpen   = flag.Bool("keep-open", false, "leave the collection open for further loads")
	)
	flag.Parse()

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

	q, err := queue.NewRedisQueue(log)
	if err != nil {
		log.Fatal("Redis queue init failed", "error", err)
	}

	stores := pipeline.NewStores(thePG, log)
	reg := registry.New(thePG, stores.Collections, stores.Notes, stores.Steps, q, log)
	load := loader.New(thePG, reg, stores.Collections, stores.Files, stores.Steps, q, log)

	files := make([]loader.FileInput, 0, flag.NArg())
	for _, arg := range flag.Args() {
		files = append(files, loader.FileInput{Filename: arg})
	}
	if len(files) == 0 {
		log.Fatal("No files given")
	}

	ctx := context.Background()

	var collectionID uuid.UUID
	if *collArg != "" {
		collectionID, err = uuid.Parse(*collArg)
		if err != nil {
			log.Fatal("Invalid collection id", "value", *collArg, "error", err)
		}
	}

	var dataVersion time.Time
	if *versionArg != "" {
		dataVersion, err = parseDataVersion(*versionArg)
		if err != nil {
			log.Fatal("Invalid data version", "error", err)
		}
	}

	// Steps must be configured before any file is accepted, so a new
	// collection is opened empty first, reconfigured, and only then loaded.
	if *stepsArg != "" {
		if collectionID == uuid.Nil {
			opened, err := load.Load(ctx, loader.Request{
				SourceID:    *source,
				DataVersion: dataVersion,
				Sample:      *sample,
				Note:        *note,
				KeepOpen:    true,
			})
			if err != nil {
				log.Fatal("Collection create failed", "error", err)
			}
			collectionID = opened.Collection.ID
		}
		for _, step := range strings.Split(*stepsArg, ",") {
			if _, err := reg.AddStep(ctx, collectionID, strings.TrimSpace(step)); err != nil {
				log.Fatal("Step configuration failed", "step", step, "error", err)
			}
		}
	}

	req := loader.Request{KeepOpen: *keepOpen, Files: files}
	if collectionID != uuid.Nil {
		req.CollectionID = collectionID
	} else {
		req.SourceID = *source
		req.DataVersion = dataVersion
		req.Sample = *sample
		req.Note = *note
	}

	result, err := load.Load(ctx, req)
	if err != nil {
		log.Fatal("Load failed", "error", err)
	}
	log.Info("Load complete",
		"collection_id", result.Collection.ID,
		"accepted", result.Accepted,
		"keep_open", *keepOpen,
	)
}
