package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

type RecordRepo interface {
	CreateMany(dbc dbctx.Context, records []*types.Record) ([]*types.Record, error)
	GetByItemID(dbc dbctx.Context, itemID uuid.UUID) ([]*types.Record, error)
	CountByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) (int64, error)
}

type recordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecordRepo(db *gorm.DB, baseLog *logger.Logger) RecordRepo {
	return &recordRepo{db: db, log: baseLog.With("repo", "RecordRepo")}
}

func (r *recordRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *recordRepo) CreateMany(dbc dbctx.Context, records []*types.Record) ([]*types.Record, error) {
	if len(records) == 0 {
		return records, nil
	}
	if err := r.handle(dbc).Create(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *recordRepo) GetByItemID(dbc dbctx.Context, itemID uuid.UUID) ([]*types.Record, error) {
	var rows []*types.Record
	if err := r.handle(dbc).
		Where("collection_file_item_id = ?", itemID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *recordRepo) CountByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) (int64, error) {
	var n int64
	err := r.handle(dbc).
		Model(&types.Record{}).
		Joins(`JOIN collection_file_item cfi ON cfi.id = record.collection_file_item_id
			JOIN collection_file cf ON cf.id = cfi.collection_file_id`).
		Where("cf.collection_id = ?", collectionID).
		Count(&n).Error
	return n, err
}
