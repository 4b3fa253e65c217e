package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Transform types a collection can be derived by, and the one non-transform
// pipeline step. Step names accepted by addstep are StepCheck plus the
// transform types.
const (
	// StepStore is implicit: the loader prepends it to every file it accepts
	// so the file's contents get parsed and persisted before anything else.
	// It is not a valid addstep argument.
	StepStore = "store"

	StepCheck              = "check"
	TransformCompile       = "compile-releases"
	TransformUpgrade10To11 = "upgrade-1-0-to-1-1"
)

func ValidStep(name string) bool {
	switch name {
	case StepCheck, TransformCompile, TransformUpgrade10To11:
		return true
	}
	return false
}

// Collection is one logical intake of data from a source at a point in time.
//
// There is at most one non-transform collection per (source_id, data_version,
// sample); sources address collections by that composite key without
// pre-registering them. The uniqueness is enforced by a partial unique index
// created in migration (transform collections are exempt).
type Collection struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	// Identification
	SourceID    string    `gorm:"column:source_id;not null;index" json:"source_id"`
	DataVersion time.Time `gorm:"column:data_version;not null" json:"data_version"`
	Sample      bool      `gorm:"column:sample;not null;default:false" json:"sample"`

	// Ordered default step names attached to newly accepted files. Mutated
	// by addstep, read by loaders under FOR SHARE.
	Steps datatypes.JSON `gorm:"column:steps;type:jsonb" json:"steps"`

	CheckOlderDataWithSchemaVersion11 bool `gorm:"column:check_older_data_with_schema_version_1_1;not null;default:false" json:"check_older_data_with_schema_version_1_1"`

	// Provenance. Both set or both empty.
	TransformFromCollectionID *uuid.UUID  `gorm:"type:uuid;column:transform_from_collection_id;index" json:"transform_from_collection_id,omitempty"`
	TransformFromCollection   *Collection `gorm:"constraint:OnDelete:CASCADE;foreignKey:TransformFromCollectionID;references:ID" json:"-"`
	TransformType             string      `gorm:"column:transform_type;not null;default:''" json:"transform_type,omitempty"`

	// Aggregates written when the collection completes.
	CachedReleasesCount         *int64 `gorm:"column:cached_releases_count" json:"cached_releases_count,omitempty"`
	CachedRecordsCount          *int64 `gorm:"column:cached_records_count" json:"cached_records_count,omitempty"`
	CachedCompiledReleasesCount *int64 `gorm:"column:cached_compiled_releases_count" json:"cached_compiled_releases_count,omitempty"`

	// Lifecycle
	StoreStartAt time.Time  `gorm:"column:store_start_at;not null;default:now()" json:"store_start_at"`
	StoreEndAt   *time.Time `gorm:"column:store_end_at" json:"store_end_at,omitempty"`
	DeletedAt    *time.Time `gorm:"column:deleted_at;index" json:"deleted_at,omitempty"`
}

func (Collection) TableName() string { return "collection" }

// IsTransform reports whether the collection was derived from another one.
func (c *Collection) IsTransform() bool { return c.TransformType != "" }

// Closed reports whether the collection no longer accepts new files.
func (c *Collection) Closed() bool { return c.StoreEndAt != nil }

// Deleting reports whether the collection is pending asynchronous purge.
func (c *Collection) Deleting() bool { return c.DeletedAt != nil }

// CollectionNote is a free-text annotation an analyst made about a
// collection. Immutable once stored.
type CollectionNote struct {
	ID           uuid.UUID   `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CollectionID uuid.UUID   `gorm:"type:uuid;not null;index;uniqueIndex:unique_collection_note" json:"collection_id"`
	Collection   *Collection `gorm:"constraint:OnDelete:CASCADE;foreignKey:CollectionID;references:ID" json:"-"`
	Note         string      `gorm:"column:note;not null;uniqueIndex:unique_collection_note" json:"note"`
	StoredAt     time.Time   `gorm:"column:stored_at;not null;default:now()" json:"stored_at"`
}

func (CollectionNote) TableName() string { return "collection_note" }
