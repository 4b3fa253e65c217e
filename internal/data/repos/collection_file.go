package repos

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

type CollectionFileRepo interface {
	Create(dbc dbctx.Context, f *types.CollectionFile) (*types.CollectionFile, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CollectionFile, error)
	GetByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) ([]*types.CollectionFile, error)
	GetByFilename(dbc dbctx.Context, collectionID uuid.UUID, filename string) (*types.CollectionFile, error)
	SetStoreStart(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	SetStoreEnd(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	AppendWarning(dbc dbctx.Context, id uuid.UUID, payload interface{}) error
	AppendError(dbc dbctx.Context, id uuid.UUID, payload interface{}) error
	CountOpenByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) (int64, error)
}

type collectionFileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCollectionFileRepo(db *gorm.DB, baseLog *logger.Logger) CollectionFileRepo {
	return &collectionFileRepo{db: db, log: baseLog.With("repo", "CollectionFileRepo")}
}

func (r *collectionFileRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *collectionFileRepo) Create(dbc dbctx.Context, f *types.CollectionFile) (*types.CollectionFile, error) {
	if err := r.handle(dbc).Create(f).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, &apperr.ConflictError{
				Resource: "collection_file",
				Detail:   "a file with this filename already exists in the collection",
			}
		}
		return nil, err
	}
	return f, nil
}

func (r *collectionFileRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CollectionFile, error) {
	var f types.CollectionFile
	if err := r.handle(dbc).First(&f, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (r *collectionFileRepo) GetByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) ([]*types.CollectionFile, error) {
	var files []*types.CollectionFile
	if err := r.handle(dbc).
		Where("collection_id = ?", collectionID).
		Order("filename").
		Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (r *collectionFileRepo) GetByFilename(dbc dbctx.Context, collectionID uuid.UUID, filename string) (*types.CollectionFile, error) {
	var f types.CollectionFile
	err := r.handle(dbc).
		Where("collection_id = ? AND filename = ?", collectionID, filename).
		First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (r *collectionFileRepo) SetStoreStart(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	return r.handle(dbc).
		Model(&types.CollectionFile{}).
		Where("id = ? AND store_start_at IS NULL", id).
		Update("store_start_at", at).Error
}

func (r *collectionFileRepo) SetStoreEnd(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	return r.handle(dbc).
		Model(&types.CollectionFile{}).
		Where("id = ? AND store_end_at IS NULL", id).
		Update("store_end_at", at).Error
}

func (r *collectionFileRepo) AppendWarning(dbc dbctx.Context, id uuid.UUID, payload interface{}) error {
	return appendDiagnostic(r.handle(dbc), &types.CollectionFile{}, "warnings", id, payload)
}

func (r *collectionFileRepo) AppendError(dbc dbctx.Context, id uuid.UUID, payload interface{}) error {
	return appendDiagnostic(r.handle(dbc), &types.CollectionFile{}, "errors", id, payload)
}

func (r *collectionFileRepo) CountOpenByCollectionID(dbc dbctx.Context, collectionID uuid.UUID) (int64, error) {
	var n int64
	err := r.handle(dbc).
		Model(&types.CollectionFile{}).
		Where("collection_id = ? AND store_end_at IS NULL", collectionID).
		Count(&n).Error
	return n, err
}

// appendDiagnostic appends one entry to a JSONB array column, treating NULL
// as the empty array so multiple stages accumulate rather than clobber.
func appendDiagnostic(h *gorm.DB, model interface{}, column string, id uuid.UUID, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.Model(model).
		Where("id = ?", id).
		Update(column, gorm.Expr(
			"COALESCE("+column+", '[]'::jsonb) || jsonb_build_array(?::jsonb)",
			string(raw),
		)).Error
}
