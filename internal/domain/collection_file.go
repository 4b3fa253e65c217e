package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CollectionFile is one input unit (for example one uploaded document)
// belonging to a collection.
type CollectionFile struct {
	ID           uuid.UUID   `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CollectionID uuid.UUID   `gorm:"type:uuid;not null;index;uniqueIndex:unique_collection_file" json:"collection_id"`
	Collection   *Collection `gorm:"constraint:OnDelete:CASCADE;foreignKey:CollectionID;references:ID" json:"-"`

	Filename string `gorm:"column:filename;not null;default:'';uniqueIndex:unique_collection_file" json:"filename"`
	URL      string `gorm:"column:url;not null;default:''" json:"url"`

	// Append-only diagnostic payloads (JSON arrays). Stages accumulate into
	// these, never overwrite.
	Warnings datatypes.JSON `gorm:"column:warnings;type:jsonb" json:"warnings,omitempty"`
	Errors   datatypes.JSON `gorm:"column:errors;type:jsonb" json:"errors,omitempty"`

	StoreStartAt *time.Time `gorm:"column:store_start_at" json:"store_start_at,omitempty"`
	StoreEndAt   *time.Time `gorm:"column:store_end_at" json:"store_end_at,omitempty"`
}

func (CollectionFile) TableName() string { return "collection_file" }

// CollectionFileItem is one parseable record inside a file. A file may hold
// many, e.g. a JSON array of release packages.
type CollectionFileItem struct {
	ID               uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CollectionFileID uuid.UUID       `gorm:"type:uuid;not null;index;uniqueIndex:unique_collection_file_item" json:"collection_file_id"`
	CollectionFile   *CollectionFile `gorm:"constraint:OnDelete:CASCADE;foreignKey:CollectionFileID;references:ID" json:"-"`

	// 1-based position within the file.
	Number int `gorm:"column:number;not null;uniqueIndex:unique_collection_file_item" json:"number"`

	Warnings datatypes.JSON `gorm:"column:warnings;type:jsonb" json:"warnings,omitempty"`
	Errors   datatypes.JSON `gorm:"column:errors;type:jsonb" json:"errors,omitempty"`

	StoreStartAt *time.Time `gorm:"column:store_start_at" json:"store_start_at,omitempty"`
	StoreEndAt   *time.Time `gorm:"column:store_end_at" json:"store_end_at,omitempty"`
}

func (CollectionFileItem) TableName() string { return "collection_file_item" }

// CollectionFileStep is one pending pipeline stage for one file. The set of
// rows for a file is its pending-stage list; Number preserves the configured
// order. Completing a stage deletes its row; a file with no remaining rows is
// terminal.
type CollectionFileStep struct {
	ID               uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CollectionFileID uuid.UUID       `gorm:"type:uuid;not null;index;uniqueIndex:unique_collection_file_step" json:"collection_file_id"`
	CollectionFile   *CollectionFile `gorm:"constraint:OnDelete:CASCADE;foreignKey:CollectionFileID;references:ID" json:"-"`

	Name   string `gorm:"column:name;not null;uniqueIndex:unique_collection_file_step" json:"name"`
	Number int    `gorm:"column:number;not null" json:"number"`
}

func (CollectionFileStep) TableName() string { return "collection_file_step" }
