package domain

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Data is the deduplicated contents of a release, record or compiled
// release. Identical payloads (by fingerprint) are stored once system-wide;
// rows are never updated and never deleted while referenced.
type Data struct {
	ID      uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	HashMD5 string         `gorm:"column:hash_md5;not null;uniqueIndex:unique_data_hash_md5" json:"hash_md5"`
	Data    datatypes.JSON `gorm:"column:data;type:jsonb;not null" json:"data"`
}

func (Data) TableName() string { return "data" }

// PackageData is the deduplicated contents of an enclosing package, excluding
// its releases or records. Many releases from the same package share one row.
type PackageData struct {
	ID      uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	HashMD5 string         `gorm:"column:hash_md5;not null;uniqueIndex:unique_package_data_hash_md5" json:"hash_md5"`
	Data    datatypes.JSON `gorm:"column:data;type:jsonb;not null" json:"data"`
}

func (PackageData) TableName() string { return "package_data" }
