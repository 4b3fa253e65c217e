package domain

import (
	"github.com/google/uuid"
)

// Release is one release parsed out of a file item, with its body and
// package metadata held as deduplicated content rows. The content foreign
// keys restrict deletion so shared blobs outlive any one collection.
type Release struct {
	ID                   uuid.UUID           `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CollectionFileItemID uuid.UUID           `gorm:"type:uuid;not null;index" json:"collection_file_item_id"`
	CollectionFileItem   *CollectionFileItem `gorm:"constraint:OnDelete:CASCADE;foreignKey:CollectionFileItemID;references:ID" json:"-"`

	ReleaseID string `gorm:"column:release_id;not null;default:''" json:"release_id"`
	Ocid      string `gorm:"column:ocid;not null;default:'';index" json:"ocid"`

	DataID        uuid.UUID    `gorm:"type:uuid;not null;index" json:"data_id"`
	Data          *Data        `gorm:"constraint:OnDelete:RESTRICT;foreignKey:DataID;references:ID" json:"-"`
	PackageDataID uuid.UUID    `gorm:"type:uuid;not null;index" json:"package_data_id"`
	PackageData   *PackageData `gorm:"constraint:OnDelete:RESTRICT;foreignKey:PackageDataID;references:ID" json:"-"`
}

func (Release) TableName() string { return "release" }

// Record is one record parsed out of a file item.
type Record struct {
	ID                   uuid.UUID           `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CollectionFileItemID uuid.UUID           `gorm:"type:uuid;not null;index" json:"collection_file_item_id"`
	CollectionFileItem   *CollectionFileItem `gorm:"constraint:OnDelete:CASCADE;foreignKey:CollectionFileItemID;references:ID" json:"-"`

	Ocid string `gorm:"column:ocid;not null;default:'';index" json:"ocid"`

	DataID        uuid.UUID    `gorm:"type:uuid;not null;index" json:"data_id"`
	Data          *Data        `gorm:"constraint:OnDelete:RESTRICT;foreignKey:DataID;references:ID" json:"-"`
	PackageDataID uuid.UUID    `gorm:"type:uuid;not null;index" json:"package_data_id"`
	PackageData   *PackageData `gorm:"constraint:OnDelete:RESTRICT;foreignKey:PackageDataID;references:ID" json:"-"`
}

func (Record) TableName() string { return "record" }

// CompiledRelease is the merged view of one contracting process, produced by
// the compile-releases transform.
type CompiledRelease struct {
	ID                   uuid.UUID           `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CollectionFileItemID uuid.UUID           `gorm:"type:uuid;not null;index" json:"collection_file_item_id"`
	CollectionFileItem   *CollectionFileItem `gorm:"constraint:OnDelete:CASCADE;foreignKey:CollectionFileItemID;references:ID" json:"-"`

	Ocid string `gorm:"column:ocid;not null;default:'';index" json:"ocid"`

	DataID uuid.UUID `gorm:"type:uuid;not null;index" json:"data_id"`
	Data   *Data     `gorm:"constraint:OnDelete:RESTRICT;foreignKey:DataID;references:ID" json:"-"`
}

func (CompiledRelease) TableName() string { return "compiled_release" }
