package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/tenderbase/procure-backend/internal/domain"
)

func SeedCollection(tb testing.TB, ctx context.Context, tx *gorm.DB, sourceID string) *types.Collection {
	tb.Helper()
	c := &types.Collection{
		ID:          uuid.New(),
		SourceID:    sourceID,
		DataVersion: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Steps:       datatypes.JSON([]byte("[]")),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed collection: %v", err)
	}
	return c
}

func SeedCollectionWithSteps(tb testing.TB, ctx context.Context, tx *gorm.DB, sourceID string, steps string) *types.Collection {
	tb.Helper()
	c := &types.Collection{
		ID:          uuid.New(),
		SourceID:    sourceID,
		DataVersion: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Steps:       datatypes.JSON([]byte(steps)),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed collection: %v", err)
	}
	return c
}

func SeedFile(tb testing.TB, ctx context.Context, tx *gorm.DB, collectionID uuid.UUID, filename string) *types.CollectionFile {
	tb.Helper()
	now := time.Now().UTC()
	f := &types.CollectionFile{
		ID:           uuid.New(),
		CollectionID: collectionID,
		Filename:     filename,
		StoreStartAt: &now,
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed file: %v", err)
	}
	return f
}

func SeedItem(tb testing.TB, ctx context.Context, tx *gorm.DB, fileID uuid.UUID, number int) *types.CollectionFileItem {
	tb.Helper()
	it := &types.CollectionFileItem{
		ID:               uuid.New(),
		CollectionFileID: fileID,
		Number:           number,
	}
	if err := tx.WithContext(ctx).Create(it).Error; err != nil {
		tb.Fatalf("seed item: %v", err)
	}
	return it
}

func SeedStep(tb testing.TB, ctx context.Context, tx *gorm.DB, fileID uuid.UUID, name string, number int) *types.CollectionFileStep {
	tb.Helper()
	s := &types.CollectionFileStep{
		ID:               uuid.New(),
		CollectionFileID: fileID,
		Name:             name,
		Number:           number,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed step: %v", err)
	}
	return s
}
