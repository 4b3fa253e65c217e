package repos

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

// ContentRepo is the deduplicated blob store. Interning is idempotent:
// identical payloads map to one row system-wide, and concurrent interners of
// the same payload race safely (optimistic insert, re-read on conflict).
type ContentRepo interface {
	InternData(dbc dbctx.Context, payload interface{}) (*types.Data, error)
	InternPackageData(dbc dbctx.Context, payload interface{}) (*types.PackageData, error)
	GetData(dbc dbctx.Context, id uuid.UUID) (*types.Data, error)
	GetPackageData(dbc dbctx.Context, id uuid.UUID) (*types.PackageData, error)
}

type contentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentRepo(db *gorm.DB, baseLog *logger.Logger) ContentRepo {
	return &contentRepo{db: db, log: baseLog.With("repo", "ContentRepo")}
}

func (r *contentRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

// Fingerprint computes the content hash used as the dedup key.
func Fingerprint(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

func canonicalJSON(payload interface{}) ([]byte, error) {
	if raw, ok := payload.(datatypes.JSON); ok {
		return raw, nil
	}
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}

func (r *contentRepo) InternData(dbc dbctx.Context, payload interface{}) (*types.Data, error) {
	raw, err := canonicalJSON(payload)
	if err != nil {
		return nil, err
	}
	hash := Fingerprint(raw)

	var existing types.Data
	err = r.handle(dbc).Where("hash_md5 = ?", hash).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	row := &types.Data{HashMD5: hash, Data: datatypes.JSON(raw)}
	if err := r.handle(dbc).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			// Lost the insert race; the winner's row is the reference.
			var winner types.Data
			if err := r.handle(dbc).Where("hash_md5 = ?", hash).First(&winner).Error; err != nil {
				return nil, err
			}
			return &winner, nil
		}
		return nil, err
	}
	return row, nil
}

func (r *contentRepo) InternPackageData(dbc dbctx.Context, payload interface{}) (*types.PackageData, error) {
	raw, err := canonicalJSON(payload)
	if err != nil {
		return nil, err
	}
	hash := Fingerprint(raw)

	var existing types.PackageData
	err = r.handle(dbc).Where("hash_md5 = ?", hash).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	row := &types.PackageData{HashMD5: hash, Data: datatypes.JSON(raw)}
	if err := r.handle(dbc).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			var winner types.PackageData
			if err := r.handle(dbc).Where("hash_md5 = ?", hash).First(&winner).Error; err != nil {
				return nil, err
			}
			return &winner, nil
		}
		return nil, err
	}
	return row, nil
}

func (r *contentRepo) GetData(dbc dbctx.Context, id uuid.UUID) (*types.Data, error) {
	var row types.Data
	if err := r.handle(dbc).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *contentRepo) GetPackageData(dbc dbctx.Context, id uuid.UUID) (*types.PackageData, error) {
	var row types.PackageData
	if err := r.handle(dbc).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}
