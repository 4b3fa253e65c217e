package domain

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ReleaseCheck is the structured result of running the check stage against a
// release. Re-checking under a different assumed schema version writes a
// separate row, so the override is part of the unique key.
type ReleaseCheck struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ReleaseID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:unique_release_check" json:"release_id"`
	Release   *Release  `gorm:"constraint:OnDelete:CASCADE;foreignKey:ReleaseID;references:ID" json:"-"`

	OverrideSchemaVersion string         `gorm:"column:override_schema_version;not null;default:'';uniqueIndex:unique_release_check" json:"override_schema_version,omitempty"`
	Output                datatypes.JSON `gorm:"column:output;type:jsonb;not null" json:"output"`
}

func (ReleaseCheck) TableName() string { return "release_check" }

// RecordCheck is the structured result of running the check stage against a
// record.
type RecordCheck struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RecordID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:unique_record_check" json:"record_id"`
	Record   *Record   `gorm:"constraint:OnDelete:CASCADE;foreignKey:RecordID;references:ID" json:"-"`

	OverrideSchemaVersion string         `gorm:"column:override_schema_version;not null;default:'';uniqueIndex:unique_record_check" json:"override_schema_version,omitempty"`
	Output                datatypes.JSON `gorm:"column:output;type:jsonb;not null" json:"output"`
}

func (RecordCheck) TableName() string { return "record_check" }
