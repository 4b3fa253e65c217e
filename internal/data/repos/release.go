package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

type ReleaseRepo interface {
	CreateMany(dbc dbctx.Context, releases []*types.Release) ([]*types.Release, error)
	GetByItemID(dbc dbctx.Context, itemID uuid.UUID) ([]*types.Release, error)
	// GetByCollectionID walks the file/item chain down from a collection.
	GetByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) ([]*types.Release, error)
	CountByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) (int64, error)
}

type releaseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReleaseRepo(db *gorm.DB, baseLog *logger.Logger) ReleaseRepo {
	return &releaseRepo{db: db, log: baseLog.With("repo", "ReleaseRepo")}
}

func (r *releaseRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *releaseRepo) CreateMany(dbc dbctx.Context, releases []*types.Release) ([]*types.Release, error) {
	if len(releases) == 0 {
		return releases, nil
	}
	if err := r.handle(dbc).Create(&releases).Error; err != nil {
		return nil, err
	}
	return releases, nil
}

func (r *releaseRepo) GetByItemID(dbc dbctx.Context, itemID uuid.UUID) ([]*types.Release, error) {
	var rows []*types.Release
	if err := r.handle(dbc).
		Where("collection_file_item_id = ?", itemID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

const releaseCollectionJoin = `
	JOIN collection_file_item cfi ON cfi.id = release.collection_file_item_id
	JOIN collection_file cf ON cf.id = cfi.collection_file_id`

func (r *releaseRepo) GetByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) ([]*types.Release, error) {
	var rows []*types.Release
	if err := r.handle(dbc).
		Joins(releaseCollectionJoin).
		Where("cf.collection_id = ?", collectionID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *releaseRepo) CountByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) (int64, error) {
	var n int64
	err := r.handle(dbc).
		Model(&types.Release{}).
		Joins(releaseCollectionJoin).
		Where("cf.collection_id = ?", collectionID).
		Count(&n).Error
	return n, err
}
