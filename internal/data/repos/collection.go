package repos

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

type CollectionRepo interface {
	Create(dbc dbctx.Context, c *types.Collection) (*types.Collection, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Collection, error)
	// GetByIdentity resolves the non-transform collection addressed by the
	// composite key, including closed and soft-deleted rows: a deleting
	// collection still blocks recreation until purged.
	GetByIdentity(dbc dbctx.Context, sourceID string, dataVersion time.Time, sample bool) (*types.Collection, error)
	GetTransform(dbc dbctx.Context, sourceCollectionID uuid.UUID, transformType string) (*types.Collection, error)
	// GetForShare reads the collection row under a shared lock. Loaders call
	// this after inserting a file so their transaction orders against a
	// concurrent step reconfiguration, without serializing loaders against
	// each other.
	GetForShare(dbc dbctx.Context, id uuid.UUID) (*types.Collection, error)
	// GetForUpdate reads the collection row under an exclusive lock. The
	// step reconfiguration reads the configuration through this so
	// concurrent reconfigurations serialize instead of losing an append.
	GetForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Collection, error)
	UpdateSteps(dbc dbctx.Context, id uuid.UUID, steps []string) error
	Close(dbc dbctx.Context, id uuid.UUID) (alreadyClosed bool, err error)
	SoftDelete(dbc dbctx.Context, id uuid.UUID) error
	SetCachedCounts(dbc dbctx.Context, id uuid.UUID, releases, records, compiled int64) error
}

type collectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCollectionRepo(db *gorm.DB, baseLog *logger.Logger) CollectionRepo {
	return &collectionRepo{db: db, log: baseLog.With("repo", "CollectionRepo")}
}

func (r *collectionRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *collectionRepo) Create(dbc dbctx.Context, c *types.Collection) (*types.Collection, error) {
	if (c.TransformFromCollectionID != nil) != (c.TransformType != "") {
		return nil, &apperr.ValidationError{
			Field:  "transform",
			Detail: "transform_from_collection_id and transform_type must either be both set or both not set",
		}
	}
	if err := r.handle(dbc).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, &apperr.ConflictError{Resource: "collection", Detail: "identity already in use"}
		}
		return nil, err
	}
	return c, nil
}

func (r *collectionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Collection, error) {
	var c types.Collection
	if err := r.handle(dbc).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *collectionRepo) GetByIdentity(dbc dbctx.Context, sourceID string, dataVersion time.Time, sample bool) (*types.Collection, error) {
	var c types.Collection
	err := r.handle(dbc).
		Where("source_id = ? AND data_version = ? AND sample = ? AND transform_type = ''", sourceID, dataVersion, sample).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *collectionRepo) GetTransform(dbc dbctx.Context, sourceCollectionID uuid.UUID, transformType string) (*types.Collection, error) {
	var c types.Collection
	err := r.handle(dbc).
		Where("transform_from_collection_id = ? AND transform_type = ? AND deleted_at IS NULL", sourceCollectionID, transformType).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *collectionRepo) GetForShare(dbc dbctx.Context, id uuid.UUID) (*types.Collection, error) {
	var c types.Collection
	err := r.handle(dbc).
		Clauses(clause.Locking{Strength: "SHARE"}).
		First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *collectionRepo) GetForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Collection, error) {
	var c types.Collection
	err := r.handle(dbc).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *collectionRepo) UpdateSteps(dbc dbctx.Context, id uuid.UUID, steps []string) error {
	raw, err := json.Marshal(steps)
	if err != nil {
		return err
	}
	return r.handle(dbc).
		Model(&types.Collection{}).
		Where("id = ?", id).
		Update("steps", datatypes.JSON(raw)).Error
}

func (r *collectionRepo) Close(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	res := r.handle(dbc).
		Model(&types.Collection{}).
		Where("id = ? AND store_end_at IS NULL", id).
		Update("store_end_at", time.Now().UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 0, nil
}

func (r *collectionRepo) SoftDelete(dbc dbctx.Context, id uuid.UUID) error {
	return r.handle(dbc).
		Model(&types.Collection{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", time.Now().UTC()).Error
}

func (r *collectionRepo) SetCachedCounts(dbc dbctx.Context, id uuid.UUID, releases, records, compiled int64) error {
	return r.handle(dbc).
		Model(&types.Collection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"cached_releases_count":          releases,
			"cached_records_count":           records,
			"cached_compiled_releases_count": compiled,
		}).Error
}

// StepNames decodes a collection's configured step list.
func StepNames(c *types.Collection) ([]string, error) {
	if len(c.Steps) == 0 {
		return nil, nil
	}
	var steps []string
	if err := json.Unmarshal(c.Steps, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}
