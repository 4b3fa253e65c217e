package repos

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

// CheckRepo stores check-stage results. Writes are upserts keyed by
// (target, override_schema_version) so re-running the stage after a
// redelivery replaces rather than duplicates.
type CheckRepo interface {
	UpsertReleaseCheck(dbc dbctx.Context, releaseID uuid.UUID, overrideSchemaVersion string, output interface{}) error
	UpsertRecordCheck(dbc dbctx.Context, recordID uuid.UUID, overrideSchemaVersion string, output interface{}) error
	GetReleaseChecks(dbc dbctx.Context, releaseID uuid.UUID) ([]*types.ReleaseCheck, error)
	GetRecordChecks(dbc dbctx.Context, recordID uuid.UUID) ([]*types.RecordCheck, error)
}

type checkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCheckRepo(db *gorm.DB, baseLog *logger.Logger) CheckRepo {
	return &checkRepo{db: db, log: baseLog.With("repo", "CheckRepo")}
}

func (r *checkRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *checkRepo) UpsertReleaseCheck(dbc dbctx.Context, releaseID uuid.UUID, overrideSchemaVersion string, output interface{}) error {
	raw, err := json.Marshal(output)
	if err != nil {
		return err
	}
	row := &types.ReleaseCheck{
		ReleaseID:             releaseID,
		OverrideSchemaVersion: overrideSchemaVersion,
		Output:                datatypes.JSON(raw),
	}
	return r.handle(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "release_id"}, {Name: "override_schema_version"}},
			DoUpdates: clause.AssignmentColumns([]string{"output"}),
		}).
		Create(row).Error
}

func (r *checkRepo) UpsertRecordCheck(dbc dbctx.Context, recordID uuid.UUID, overrideSchemaVersion string, output interface{}) error {
	raw, err := json.Marshal(output)
	if err != nil {
		return err
	}
	row := &types.RecordCheck{
		RecordID:              recordID,
		OverrideSchemaVersion: overrideSchemaVersion,
		Output:                datatypes.JSON(raw),
	}
	return r.handle(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_id"}, {Name: "override_schema_version"}},
			DoUpdates: clause.AssignmentColumns([]string{"output"}),
		}).
		Create(row).Error
}

func (r *checkRepo) GetReleaseChecks(dbc dbctx.Context, releaseID uuid.UUID) ([]*types.ReleaseCheck, error) {
	var rows []*types.ReleaseCheck
	if err := r.handle(dbc).
		Where("release_id = ?", releaseID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *checkRepo) GetRecordChecks(dbc dbctx.Context, recordID uuid.UUID) ([]*types.RecordCheck, error) {
	var rows []*types.RecordCheck
	if err := r.handle(dbc).
		Where("record_id = ?", recordID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
