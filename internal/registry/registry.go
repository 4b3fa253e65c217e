// Package registry owns the collection lifecycle: creation against the
// composite identity, transform derivation, closing, soft deletion, notes,
// and step reconfiguration for a collection with loads in flight.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tenderbase/procure-backend/internal/data/repos"
	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
	"github.com/tenderbase/procure-backend/internal/queue"
)

type Registry struct {
	db          *gorm.DB
	collections repos.CollectionRepo
	notes       repos.CollectionNoteRepo
	steps       repos.CollectionFileStepRepo
	publisher   queue.Publisher
	log         *logger.Logger
}

func New(
	db *gorm.DB,
	collections repos.CollectionRepo,
	notes repos.CollectionNoteRepo,
	steps repos.CollectionFileStepRepo,
	publisher queue.Publisher,
	baseLog *logger.Logger,
) *Registry {
	return &Registry{
		db:          db,
		collections: collections,
		notes:       notes,
		steps:       steps,
		publisher:   publisher,
		log:         baseLog.With("component", "Registry"),
	}
}

// Create opens a new non-transform collection. The composite identity
// (source_id, data_version, sample) must not be held by any existing
// non-transform collection; the conflict error says whether the holder is
// open, closed, or pending deletion so an operator can act on it.
func (r *Registry) Create(ctx context.Context, sourceID string, dataVersion time.Time, sample bool, note string) (*types.Collection, error) {
	if sourceID == "" {
		return nil, &apperr.ValidationError{Field: "source_id", Detail: "must not be empty"}
	}
	if dataVersion.IsZero() {
		return nil, &apperr.ValidationError{Field: "data_version", Detail: "must be set"}
	}

	var created *types.Collection
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)
		c := &types.Collection{
			SourceID:    sourceID,
			DataVersion: dataVersion.UTC(),
			Sample:      sample,
		}
		var err error
		created, err = r.collections.Create(dbc, c)
		if err != nil {
			return err
		}
		if note != "" {
			if err := r.notes.Create(dbc, created.ID, note); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		r.log.Info("Collection created",
			"collection_id", created.ID,
			"source_id", sourceID,
			"data_version", dataVersion.UTC(),
			"sample", sample,
		)
		return created, nil
	}
	if !apperr.IsConflict(err) {
		return nil, err
	}

	// Re-read the holder outside the aborted transaction to say why.
	existing, lookupErr := r.collections.GetByIdentity(dbctx.New(ctx), sourceID, dataVersion.UTC(), sample)
	if lookupErr != nil {
		return nil, err
	}
	return nil, conflictFor(existing)
}

func conflictFor(existing *types.Collection) *apperr.ConflictError {
	switch {
	case existing.Deleting():
		return &apperr.ConflictError{
			Resource:   "collection",
			ExistingID: existing.ID,
			State:      apperr.StateDeleting,
			Detail:     "a collection matching these arguments is being deleted",
		}
	case existing.Closed():
		return &apperr.ConflictError{
			Resource:   "collection",
			ExistingID: existing.ID,
			State:      apperr.StateClosed,
			Detail:     "a closed collection matching these arguments already exists",
		}
	default:
		return &apperr.ConflictError{
			Resource:   "collection",
			ExistingID: existing.ID,
			State:      apperr.StateOpen,
			Detail:     fmt.Sprintf("an open collection matching these arguments already exists; load into it with --collection %s", existing.ID),
		}
	}
}

// CreateTransform derives a new collection from source. At most one live
// transform of a given type may exist per source collection.
func (r *Registry) CreateTransform(ctx context.Context, source *types.Collection, transformType string) (*types.Collection, error) {
	if transformType != types.TransformCompile && transformType != types.TransformUpgrade10To11 {
		return nil, &apperr.ValidationError{Field: "transform_type", Detail: "unknown transform type " + transformType}
	}

	sourceID := source.ID
	c := &types.Collection{
		SourceID:                  source.SourceID,
		DataVersion:               source.DataVersion,
		Sample:                    source.Sample,
		TransformFromCollectionID: &sourceID,
		TransformType:             transformType,
	}
	created, err := r.collections.Create(dbctx.New(ctx), c)
	if err == nil {
		r.log.Info("Transform collection created",
			"collection_id", created.ID,
			"source_collection_id", sourceID,
			"transform_type", transformType,
		)
		return created, nil
	}
	if !apperr.IsConflict(err) {
		return nil, err
	}
	existing, lookupErr := r.collections.GetTransform(dbctx.New(ctx), sourceID, transformType)
	if lookupErr != nil {
		return nil, err
	}
	return nil, &apperr.ConflictError{
		Resource:   "collection",
		ExistingID: existing.ID,
		State:      apperr.StateOpen,
		Detail:     fmt.Sprintf("a live %s transform of this collection already exists", transformType),
	}
}

// EnsureTransform returns the live transform collection of the given type,
// creating it if needed. Safe under concurrent callers: the loser of the
// creation race reads the winner's row.
func (r *Registry) EnsureTransform(ctx context.Context, source *types.Collection, transformType string) (*types.Collection, error) {
	existing, err := r.collections.GetTransform(dbctx.New(ctx), source.ID, transformType)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	created, err := r.CreateTransform(ctx, source, transformType)
	if err == nil {
		return created, nil
	}
	if apperr.IsConflict(err) {
		return r.collections.GetTransform(dbctx.New(ctx), source.ID, transformType)
	}
	return nil, err
}

// Close ends a collection's intake of new files. Idempotent; the return
// distinguishes "newly closed" from "already ended".
func (r *Registry) Close(ctx context.Context, collectionID uuid.UUID) (alreadyClosed bool, err error) {
	if _, err := r.collections.GetByID(dbctx.New(ctx), collectionID); err != nil {
		return false, err
	}
	return r.collections.Close(dbctx.New(ctx), collectionID)
}

// SoftDelete marks a collection for asynchronous purge. Its identity keeps
// blocking recreation until the purge actually runs.
func (r *Registry) SoftDelete(ctx context.Context, collectionID uuid.UUID) error {
	if _, err := r.collections.GetByID(dbctx.New(ctx), collectionID); err != nil {
		return err
	}
	return r.collections.SoftDelete(dbctx.New(ctx), collectionID)
}

// AddNote stores an immutable annotation. Duplicate text is a no-op.
func (r *Registry) AddNote(ctx context.Context, collectionID uuid.UUID, note string) error {
	if note == "" {
		return &apperr.ValidationError{Field: "note", Detail: "must not be empty"}
	}
	if _, err := r.collections.GetByID(dbctx.New(ctx), collectionID); err != nil {
		return err
	}
	return r.notes.Create(dbctx.New(ctx), collectionID, note)
}

// AddStep adds a pipeline step to the collection's configuration and
// backfills it onto every existing file, while loaders may be inserting new
// files concurrently.
//
// Two races have to be avoided. Selecting files before updating the
// configuration loses files loaded in between (never enqueued); updating the
// configuration before selecting enqueues files loaded in between twice (the
// loader attaches the new step and the backfill sees the file too). The fix
// is to make the two sides commit in a predictable order via row locking:
//
//   - this transaction reads the collection row FOR UPDATE (holding the
//     lock through its UPDATE of the configuration), then backfills from
//     collection_file;
//   - a loader INSERTs its file, then SELECTs the collection row FOR SHARE.
//
// FOR UPDATE blocks (and is blocked by) FOR SHARE, but FOR SHARE does not
// block FOR SHARE, so loaders never serialize against each other. Whichever
// side commits first is visible in full to the other: a loader that waited
// reads the new configuration and attaches the step itself; a backfill that
// waited sees the loader's file and enqueues it. Either way each file gets
// the step exactly once. Taking the exclusive lock at the read also
// serializes concurrent reconfigurations, so neither append is lost.
//
// Re-adding a step already in the configuration is a no-op returning success.
func (r *Registry) AddStep(ctx context.Context, collectionID uuid.UUID, step string) (enqueued int, err error) {
	if !types.ValidStep(step) {
		return 0, &apperr.ValidationError{Field: "step", Detail: "unknown step " + step}
	}

	var backfilled []uuid.UUID
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)

		// Exclusive row lock from the first read: loaders holding FOR SHARE
		// block here and vice versa, and a concurrent reconfiguration cannot
		// read the configuration until this one commits its append.
		collection, err := r.collections.GetForUpdate(dbc, collectionID)
		if err != nil {
			return err
		}
		steps, err := repos.StepNames(collection)
		if err != nil {
			return err
		}
		for _, s := range steps {
			if s == step {
				return nil
			}
		}

		if err := r.collections.UpdateSteps(dbc, collectionID, append(steps, step)); err != nil {
			return err
		}

		backfilled, err = r.steps.BackfillForCollection(dbc, collectionID, step)
		return err
	})
	if err != nil {
		return 0, err
	}

	// The step rows are the authoritative record; publishing happens after
	// commit so no consumer sees a job before its row is visible. A publish
	// failure here is recoverable via Redrive.
	for _, fileID := range backfilled {
		if err := r.publisher.Publish(ctx, queue.NewMessage(fileID, step)); err != nil {
			r.log.Error("Backfill publish failed; run redrive",
				"collection_id", collectionID,
				"collection_file_id", fileID,
				"step", step,
				"error", err,
			)
		}
	}
	r.log.Info("Step added", "collection_id", collectionID, "step", step, "backfilled", len(backfilled))
	return len(backfilled), nil
}

// Redrive republishes a job for the first pending step of every unfinished
// file in the collection. Duplicates are harmless: workers ack and skip jobs
// whose step row is gone, and handlers are idempotent.
func (r *Registry) Redrive(ctx context.Context, collectionID uuid.UUID) (int, error) {
	type pending struct {
		CollectionFileID uuid.UUID
		Name             string
	}
	var rows []pending
	err := r.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (s.collection_file_id) s.collection_file_id, s.name
		FROM collection_file_step s
		JOIN collection_file cf ON cf.id = s.collection_file_id
		WHERE cf.collection_id = ?
		ORDER BY s.collection_file_id, s.number
	`, collectionID).Scan(&rows).Error
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err := r.publisher.Publish(ctx, queue.NewMessage(row.CollectionFileID, row.Name)); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}
