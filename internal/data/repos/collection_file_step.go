package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

type CollectionFileStepRepo interface {
	// CreateForFile attaches the ordered step list to a newly accepted file.
	CreateForFile(dbc dbctx.Context, fileID uuid.UUID, steps []string) error
	// ListByFileID returns a file's pending steps in configured order.
	ListByFileID(dbc dbctx.Context, fileID uuid.UUID) ([]*types.CollectionFileStep, error)
	// Exists reports whether the step is still pending for the file.
	Exists(dbc dbctx.Context, fileID uuid.UUID, name string) (bool, error)
	// Complete removes the step from the file's pending list. Removing an
	// already-removed step is a no-op (redelivery tolerance).
	Complete(dbc dbctx.Context, fileID uuid.UUID, name string) error
	// BackfillForCollection inserts the step for every file of the collection
	// that does not already have it pending, returning the file ids actually
	// inserted. Runs inside the reconfiguration transaction of addstep.
	BackfillForCollection(dbc dbctx.Context, collectionID uuid.UUID, name string) ([]uuid.UUID, error)
}

type collectionFileStepRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCollectionFileStepRepo(db *gorm.DB, baseLog *logger.Logger) CollectionFileStepRepo {
	return &collectionFileStepRepo{db: db, log: baseLog.With("repo", "CollectionFileStepRepo")}
}

func (r *collectionFileStepRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *collectionFileStepRepo) CreateForFile(dbc dbctx.Context, fileID uuid.UUID, steps []string) error {
	if len(steps) == 0 {
		return nil
	}
	rows := make([]*types.CollectionFileStep, 0, len(steps))
	for i, name := range steps {
		rows = append(rows, &types.CollectionFileStep{
			CollectionFileID: fileID,
			Name:             name,
			Number:           i + 1,
		})
	}
	return r.handle(dbc).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (r *collectionFileStepRepo) ListByFileID(dbc dbctx.Context, fileID uuid.UUID) ([]*types.CollectionFileStep, error) {
	var rows []*types.CollectionFileStep
	if err := r.handle(dbc).
		Where("collection_file_id = ?", fileID).
		Order("number").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *collectionFileStepRepo) Exists(dbc dbctx.Context, fileID uuid.UUID, name string) (bool, error) {
	var n int64
	err := r.handle(dbc).
		Model(&types.CollectionFileStep{}).
		Where("collection_file_id = ? AND name = ?", fileID, name).
		Count(&n).Error
	return n > 0, err
}

func (r *collectionFileStepRepo) Complete(dbc dbctx.Context, fileID uuid.UUID, name string) error {
	return r.handle(dbc).
		Where("collection_file_id = ? AND name = ?", fileID, name).
		Delete(&types.CollectionFileStep{}).Error
}

func (r *collectionFileStepRepo) BackfillForCollection(dbc dbctx.Context, collectionID uuid.UUID, name string) ([]uuid.UUID, error) {
	// One statement so the backfill read and insert are the same snapshot;
	// new pending steps go to the back of each file's order.
	var fileIDs []uuid.UUID
	err := r.handle(dbc).Raw(`
		INSERT INTO collection_file_step (collection_file_id, name, number)
		SELECT cf.id, ?, COALESCE((
			SELECT MAX(s.number) FROM collection_file_step s WHERE s.collection_file_id = cf.id
		), 0) + 1
		FROM collection_file cf
		WHERE cf.collection_id = ?
		ON CONFLICT (collection_file_id, name) DO NOTHING
		RETURNING collection_file_id
	`, name, collectionID).Scan(&fileIDs).Error
	if err != nil {
		return nil, err
	}
	return fileIDs, nil
}
