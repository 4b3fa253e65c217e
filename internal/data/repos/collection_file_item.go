package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

type CollectionFileItemRepo interface {
	// Upsert creates the item for (file, number) or returns the existing one,
	// so the stage that first parses a file can be re-run safely.
	Upsert(dbc dbctx.Context, item *types.CollectionFileItem) (*types.CollectionFileItem, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CollectionFileItem, error)
	GetByFileID(dbc dbctx.Context, fileID uuid.UUID) ([]*types.CollectionFileItem, error)
	SetStoreStart(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	SetStoreEnd(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	// SetStoreEndByFileID closes every still-open item of a file. Called when
	// the file's stage chain is exhausted.
	SetStoreEndByFileID(dbc dbctx.Context, fileID uuid.UUID, at time.Time) error
	AppendWarning(dbc dbctx.Context, id uuid.UUID, payload interface{}) error
	AppendError(dbc dbctx.Context, id uuid.UUID, payload interface{}) error
}

type collectionFileItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCollectionFileItemRepo(db *gorm.DB, baseLog *logger.Logger) CollectionFileItemRepo {
	return &collectionFileItemRepo{db: db, log: baseLog.With("repo", "CollectionFileItemRepo")}
}

func (r *collectionFileItemRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *collectionFileItemRepo) Upsert(dbc dbctx.Context, item *types.CollectionFileItem) (*types.CollectionFileItem, error) {
	err := r.handle(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection_file_id"}, {Name: "number"}},
			DoNothing: true,
		}).
		Create(item).Error
	if err != nil {
		return nil, err
	}
	if item.ID != uuid.Nil {
		return item, nil
	}
	// Conflict path: another worker created it first, re-read the winner.
	var existing types.CollectionFileItem
	err = r.handle(dbc).
		Where("collection_file_id = ? AND number = ?", item.CollectionFileID, item.Number).
		First(&existing).Error
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

func (r *collectionFileItemRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CollectionFileItem, error) {
	var item types.CollectionFileItem
	if err := r.handle(dbc).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *collectionFileItemRepo) GetByFileID(dbc dbctx.Context, fileID uuid.UUID) ([]*types.CollectionFileItem, error) {
	var items []*types.CollectionFileItem
	if err := r.handle(dbc).
		Where("collection_file_id = ?", fileID).
		Order("number").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *collectionFileItemRepo) SetStoreStart(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	return r.handle(dbc).
		Model(&types.CollectionFileItem{}).
		Where("id = ? AND store_start_at IS NULL", id).
		Update("store_start_at", at).Error
}

func (r *collectionFileItemRepo) SetStoreEnd(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	return r.handle(dbc).
		Model(&types.CollectionFileItem{}).
		Where("id = ? AND store_end_at IS NULL", id).
		Update("store_end_at", at).Error
}

func (r *collectionFileItemRepo) SetStoreEndByFileID(dbc dbctx.Context, fileID uuid.UUID, at time.Time) error {
	return r.handle(dbc).
		Model(&types.CollectionFileItem{}).
		Where("collection_file_id = ? AND store_end_at IS NULL", fileID).
		Update("store_end_at", at).Error
}

func (r *collectionFileItemRepo) AppendWarning(dbc dbctx.Context, id uuid.UUID, payload interface{}) error {
	return appendDiagnostic(r.handle(dbc), &types.CollectionFileItem{}, "warnings", id, payload)
}

func (r *collectionFileItemRepo) AppendError(dbc dbctx.Context, id uuid.UUID, payload interface{}) error {
	return appendDiagnostic(r.handle(dbc), &types.CollectionFileItem{}, "errors", id, payload)
}
