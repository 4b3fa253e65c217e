package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/tenderbase/procure-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// Collections and their annotations
		&types.Collection{},
		&types.CollectionNote{},

		// Files, items and the per-file pending-step list
		&types.CollectionFile{},
		&types.CollectionFileItem{},
		&types.CollectionFileStep{},

		// Content-addressable blobs
		&types.Data{},
		&types.PackageData{},

		// Normalized entities
		&types.Release{},
		&types.Record{},
		&types.CompiledRelease{},

		// Check results
		&types.ReleaseCheck{},
		&types.RecordCheck{},
	)
}

func EnsureCollectionIndexes(db *gorm.DB) error {
	// uuid-ossp is already enabled in NewPostgresService, but safe to re-run.
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return fmt.Errorf("enable uuid-ossp: %w", err)
	}

	// The composite identity (source_id, data_version, sample) is unique only
	// among non-transform collections, so a partial index is required; GORM
	// struct tags cannot express the predicate.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS unique_collection_identifiers
		ON collection (source_id, data_version, sample)
		WHERE transform_type = '';
	`).Error; err != nil {
		return fmt.Errorf("create unique_collection_identifiers: %w", err)
	}

	// At most one live transform of a given type per source collection.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS unique_collection_transform
		ON collection (transform_from_collection_id, transform_type)
		WHERE transform_type <> '' AND deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create unique_collection_transform: %w", err)
	}

	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureCollectionIndexes(s.db); err != nil {
		s.log.Error("Collection index migration failed", "error", err)
		return err
	}
	return nil
}
