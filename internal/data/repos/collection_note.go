package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

type CollectionNoteRepo interface {
	// Create stores a note. Storing the same text twice on one collection is
	// a no-op.
	Create(dbc dbctx.Context, collectionID uuid.UUID, note string) error
	GetByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) ([]*types.CollectionNote, error)
}

type collectionNoteRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCollectionNoteRepo(db *gorm.DB, baseLog *logger.Logger) CollectionNoteRepo {
	return &collectionNoteRepo{db: db, log: baseLog.With("repo", "CollectionNoteRepo")}
}

func (r *collectionNoteRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *collectionNoteRepo) Create(dbc dbctx.Context, collectionID uuid.UUID, note string) error {
	n := &types.CollectionNote{CollectionID: collectionID, Note: note}
	return r.handle(dbc).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(n).Error
}

func (r *collectionNoteRepo) GetByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) ([]*types.CollectionNote, error) {
	var notes []*types.CollectionNote
	if err := r.handle(dbc).
		Where("collection_id = ?", collectionID).
		Order("stored_at").
		Find(&notes).Error; err != nil {
		return nil, err
	}
	return notes, nil
}
