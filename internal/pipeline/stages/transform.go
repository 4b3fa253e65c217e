package stages

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pipeline"
	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
)

// ensureTransform resolves the live transform collection of the given type
// for the stage's source collection, creating it if this is the first file to
// arrive. Runs inside the stage transaction; a concurrent creator's commit
// wins the unique index and the loser re-reads.
func ensureTransform(jc *pipeline.StageContext, transformType string) (*types.Collection, error) {
	existing, err := jc.Stores.Collections.GetTransform(jc.DBC, jc.Collection.ID, transformType)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	// Savepoint, so a lost creation race does not poison the stage
	// transaction before the re-read.
	sourceID := jc.Collection.ID
	var created *types.Collection
	err = jc.DBC.Tx.Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = jc.Stores.Collections.Create(dbctx.WithTx(jc.Ctx, tx), &types.Collection{
			SourceID:                  jc.Collection.SourceID,
			DataVersion:               jc.Collection.DataVersion,
			Sample:                    jc.Collection.Sample,
			TransformFromCollectionID: &sourceID,
			TransformType:             transformType,
		})
		return err
	})
	if err == nil {
		return created, nil
	}
	if apperr.IsConflict(err) {
		return jc.Stores.Collections.GetTransform(jc.DBC, jc.Collection.ID, transformType)
	}
	return nil, err
}

// mirrorFile creates (or, on replay, finds) the target collection's copy of
// the source file. Transform output files carry no pending steps: the
// transform writes their rows directly, so they are terminal on creation.
// Follow-on processing of a transform collection is configured with addstep.
func mirrorFile(jc *pipeline.StageContext, target *types.Collection) (*types.CollectionFile, error) {
	now := time.Now().UTC()
	var file *types.CollectionFile
	err := jc.DBC.Tx.Transaction(func(tx *gorm.DB) error {
		var err error
		file, err = jc.Stores.Files.Create(dbctx.WithTx(jc.Ctx, tx), &types.CollectionFile{
			CollectionID: target.ID,
			Filename:     jc.File.Filename,
			URL:          jc.File.URL,
			StoreStartAt: &now,
		})
		return err
	})
	if err == nil {
		return file, jc.Stores.Files.SetStoreEnd(jc.DBC, file.ID, now)
	}
	if apperr.IsConflict(err) {
		// Replay: the mirror already exists.
		return jc.Stores.Files.GetByFilename(jc.DBC, target.ID, jc.File.Filename)
	}
	return nil, err
}

func mirrorItem(jc *pipeline.StageContext, fileID uuid.UUID, number int) (*types.CollectionFileItem, error) {
	now := time.Now().UTC()
	return jc.Stores.Items.Upsert(jc.DBC, &types.CollectionFileItem{
		CollectionFileID: fileID,
		Number:           number,
		StoreStartAt:     &now,
		StoreEndAt:       &now,
	})
}
