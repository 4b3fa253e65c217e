// Package loader accepts input files into a collection and hands them to the
// pipeline.
package loader

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tenderbase/procure-backend/internal/data/repos"
	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
	"github.com/tenderbase/procure-backend/internal/queue"
	"github.com/tenderbase/procure-backend/internal/registry"
)

type FileInput struct {
	Filename string
	URL      string
}

type Request struct {
	// New-collection fields; mutually exclusive with CollectionID.
	SourceID    string
	DataVersion time.Time
	Sample      bool
	Note        string

	// Open-collection field.
	CollectionID uuid.UUID

	KeepOpen bool
	Files    []FileInput
}

type Result struct {
	Collection *types.Collection
	Accepted   int
}

type Loader struct {
	db        *gorm.DB
	registry  *registry.Registry
	colls     repos.CollectionRepo
	files     repos.CollectionFileRepo
	steps     repos.CollectionFileStepRepo
	publisher queue.Publisher
	log       *logger.Logger
}

func New(
	db *gorm.DB,
	reg *registry.Registry,
	colls repos.CollectionRepo,
	files repos.CollectionFileRepo,
	steps repos.CollectionFileStepRepo,
	publisher queue.Publisher,
	baseLog *logger.Logger,
) *Loader {
	return &Loader{
		db:        db,
		registry:  reg,
		colls:     colls,
		files:     files,
		steps:     steps,
		publisher: publisher,
		log:       baseLog.With("component", "Loader"),
	}
}

// Load resolves or creates the target collection, accepts each file into it,
// and (unless KeepOpen) closes the collection to further files.
func (l *Loader) Load(ctx context.Context, req Request) (*Result, error) {
	collection, err := l.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	accepted := 0
	for _, f := range req.Files {
		if _, err := l.AcceptFile(ctx, collection.ID, f.Filename, f.URL, true); err != nil {
			return nil, err
		}
		accepted++
	}

	if !req.KeepOpen {
		if _, err := l.registry.Close(ctx, collection.ID); err != nil {
			return nil, err
		}
	}

	l.log.Info("Load finished",
		"collection_id", collection.ID,
		"accepted", accepted,
		"keep_open", req.KeepOpen,
	)
	return &Result{Collection: collection, Accepted: accepted}, nil
}

func (l *Loader) resolve(ctx context.Context, req Request) (*types.Collection, error) {
	if req.CollectionID != uuid.Nil {
		if req.SourceID != "" || !req.DataVersion.IsZero() || req.Sample {
			return nil, &apperr.ValidationError{
				Detail: "options for a new collection (source, time, sample) cannot be mixed with an open collection id",
			}
		}
		collection, err := l.colls.GetByID(dbctx.New(ctx), req.CollectionID)
		if err != nil {
			return nil, err
		}
		if collection.Deleting() {
			return nil, conflictState(collection, apperr.StateDeleting, "the collection is being deleted")
		}
		if collection.Closed() {
			return nil, conflictState(collection, apperr.StateClosed, "the collection is closed to new files")
		}
		return collection, nil
	}

	if req.SourceID == "" {
		return nil, &apperr.ValidationError{
			Detail: "indicate either a new collection (source and note) or an open collection (collection id)",
		}
	}
	if req.Note == "" {
		return nil, &apperr.ValidationError{Field: "note", Detail: "a note is required when loading into a new collection"}
	}
	return l.registry.Create(ctx, req.SourceID, req.DataVersion, req.Sample, req.Note)
}

func conflictState(c *types.Collection, state apperr.CollectionState, detail string) error {
	return &apperr.ConflictError{
		Resource:   "collection",
		ExistingID: c.ID,
		State:      state,
		Detail:     detail,
	}
}

// AcceptFile inserts one file and attaches the step list implied by the
// collection configuration visible to this transaction. The configuration is
// read under FOR SHARE *after* the insert, so this transaction orders
// predictably against a concurrent AddStep (see registry.AddStep); loaders do
// not block one another. With withStore, the implicit store step is placed
// before the configured steps; transform stages feed their output files in
// without it, since they write the rows themselves.
//
// The first step's job message is published after commit. A file with no
// steps at all is immediately terminal.
func (l *Loader) AcceptFile(ctx context.Context, collectionID uuid.UUID, filename, url string, withStore bool) (*types.CollectionFile, error) {
	if filename == "" && url == "" {
		return nil, &apperr.ValidationError{Field: "filename", Detail: "a filename or url is required"}
	}

	var (
		file      *types.CollectionFile
		stepNames []string
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)

		now := time.Now().UTC()
		created, err := l.files.Create(dbc, &types.CollectionFile{
			CollectionID: collectionID,
			Filename:     filename,
			URL:          url,
			StoreStartAt: &now,
		})
		if err != nil {
			return err
		}
		file = created

		collection, err := l.colls.GetForShare(dbc, collectionID)
		if err != nil {
			return err
		}
		configured, err := repos.StepNames(collection)
		if err != nil {
			return err
		}
		if withStore {
			stepNames = append([]string{types.StepStore}, configured...)
		} else {
			stepNames = configured
		}
		if len(stepNames) == 0 {
			return l.files.SetStoreEnd(dbc, file.ID, time.Now().UTC())
		}
		return l.steps.CreateForFile(dbc, file.ID, stepNames)
	})
	if err != nil {
		return nil, err
	}

	if len(stepNames) > 0 {
		if err := l.publisher.Publish(ctx, queue.NewMessage(file.ID, stepNames[0])); err != nil {
			l.log.Error("Job publish failed; run redrive",
				"collection_file_id", file.ID,
				"step", stepNames[0],
				"error", err,
			)
		}
	}
	return file, nil
}
