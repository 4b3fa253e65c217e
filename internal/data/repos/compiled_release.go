package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

type CompiledReleaseRepo interface {
	CreateMany(dbc dbctx.Context, rows []*types.CompiledRelease) ([]*types.CompiledRelease, error)
	GetByItemID(dbc dbctx.Context, itemID uuid.UUID) ([]*types.CompiledRelease, error)
	CountByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) (int64, error)
}

type compiledReleaseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCompiledReleaseRepo(db *gorm.DB, baseLog *logger.Logger) CompiledReleaseRepo {
	return &compiledReleaseRepo{db: db, log: baseLog.With("repo", "CompiledReleaseRepo")}
}

func (r *compiledReleaseRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *compiledReleaseRepo) CreateMany(dbc dbctx.Context, rows []*types.CompiledRelease) ([]*types.CompiledRelease, error) {
	if len(rows) == 0 {
		return rows, nil
	}
	if err := r.handle(dbc).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *compiledReleaseRepo) GetByItemID(dbc dbctx.Context, itemID uuid.UUID) ([]*types.CompiledRelease, error) {
	var rows []*types.CompiledRelease
	if err := r.handle(dbc).
		Where("collection_file_item_id = ?", itemID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *compiledReleaseRepo) CountByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) (int64, error) {
	var n int64
	err := r.handle(dbc).
		Model(&types.CompiledRelease{}).
		Joins(`JOIN collection_file_item cfi ON cfi.id = compiled_release.collection_file_item_id
			JOIN collection_file cf ON cf.id = cfi.collection_file_id`).
		Where("cf.collection_id = ?", collectionID).
		Count(&n).Error
	return n, err
}
