package repos_test

import (
	"context"
	"testing"
	"time"

	"github.com/tenderbase/procure-backend/internal/data/repos"
	"github.com/tenderbase/procure-backend/internal/data/repos/testutil"
	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
)

var mayFirst = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func TestCollectionCreateDuplicateIdentity(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	colls := repos.NewCollectionRepo(tx, log)
	txc := dbctx.WithTx(context.Background(), tx)

	first, err := colls.Create(txc, &types.Collection{SourceID: "portal-a", DataVersion: mayFirst})
	if err != nil {
		t.Fatalf("Create first: %v", err)
	}

	_, err = colls.Create(txc, &types.Collection{SourceID: "portal-a", DataVersion: mayFirst})
	if !apperr.IsConflict(err) {
		t.Fatalf("duplicate identity: want conflict, got %v", err)
	}

	// A sample collection is a different identity.
	sample, err := colls.Create(txc, &types.Collection{SourceID: "portal-a", DataVersion: mayFirst, Sample: true})
	if err != nil {
		t.Fatalf("Create sample: %v", err)
	}
	if sample.ID == first.ID {
		t.Fatalf("sample must be its own row")
	}
}

func TestCollectionCreateLineageAllOrNothing(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	colls := repos.NewCollectionRepo(tx, log)
	txc := dbctx.WithTx(context.Background(), tx)

	source, err := colls.Create(txc, &types.Collection{SourceID: "portal-b", DataVersion: mayFirst})
	if err != nil {
		t.Fatalf("Create source: %v", err)
	}

	_, err = colls.Create(txc, &types.Collection{
		SourceID:      "portal-b",
		DataVersion:   mayFirst,
		TransformType: types.TransformCompile,
	})
	if !apperr.IsValidation(err) {
		t.Fatalf("type without parent: want validation error, got %v", err)
	}

	_, err = colls.Create(txc, &types.Collection{
		SourceID:                  "portal-b",
		DataVersion:               mayFirst,
		TransformFromCollectionID: &source.ID,
	})
	if !apperr.IsValidation(err) {
		t.Fatalf("parent without type: want validation error, got %v", err)
	}

	transform, err := colls.Create(txc, &types.Collection{
		SourceID:                  "portal-b",
		DataVersion:               mayFirst,
		TransformFromCollectionID: &source.ID,
		TransformType:             types.TransformCompile,
	})
	if err != nil {
		t.Fatalf("Create transform: %v", err)
	}
	if !transform.IsTransform() {
		t.Fatalf("transform flag lost")
	}

	got, err := colls.GetTransform(txc, source.ID, types.TransformCompile)
	if err != nil {
		t.Fatalf("GetTransform: %v", err)
	}
	if got.ID != transform.ID {
		t.Fatalf("GetTransform resolved the wrong row")
	}
}

func TestCollectionCloseIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	colls := repos.NewCollectionRepo(tx, log)
	txc := dbctx.WithTx(context.Background(), tx)

	c := testutil.SeedCollection(t, context.Background(), tx, "portal-c")

	already, err := colls.Close(txc, c.ID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if already {
		t.Fatalf("first close reported already-closed")
	}

	already, err = colls.Close(txc, c.ID)
	if err != nil {
		t.Fatalf("Close again: %v", err)
	}
	if !already {
		t.Fatalf("second close should be a detectable no-op")
	}

	got, err := colls.GetByID(txc, c.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.Closed() {
		t.Fatalf("store_end_at not set")
	}
}

func TestCollectionStepsRoundTrip(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	colls := repos.NewCollectionRepo(tx, log)
	txc := dbctx.WithTx(context.Background(), tx)

	c := testutil.SeedCollection(t, context.Background(), tx, "portal-d")

	steps, err := repos.StepNames(c)
	if err != nil {
		t.Fatalf("StepNames empty: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("new collection should have no configured steps")
	}

	if err := colls.UpdateSteps(txc, c.ID, []string{types.StepCheck, types.TransformCompile}); err != nil {
		t.Fatalf("UpdateSteps: %v", err)
	}
	got, err := colls.GetByID(txc, c.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	steps, err = repos.StepNames(got)
	if err != nil {
		t.Fatalf("StepNames: %v", err)
	}
	if len(steps) != 2 || steps[0] != types.StepCheck || steps[1] != types.TransformCompile {
		t.Fatalf("steps round trip: got %v", steps)
	}
}

func TestCollectionSoftDeleteHidesTransform(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	colls := repos.NewCollectionRepo(tx, log)
	txc := dbctx.WithTx(context.Background(), tx)

	source, err := colls.Create(txc, &types.Collection{SourceID: "portal-e", DataVersion: mayFirst})
	if err != nil {
		t.Fatalf("Create source: %v", err)
	}
	transform, err := colls.Create(txc, &types.Collection{
		SourceID:                  "portal-e",
		DataVersion:               mayFirst,
		TransformFromCollectionID: &source.ID,
		TransformType:             types.TransformUpgrade10To11,
	})
	if err != nil {
		t.Fatalf("Create transform: %v", err)
	}

	if err := colls.SoftDelete(txc, transform.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if _, err := colls.GetTransform(txc, source.ID, types.TransformUpgrade10To11); err == nil {
		t.Fatalf("deleted transform must not resolve")
	}

	// The row itself still exists and still holds its identity.
	got, err := colls.GetByID(txc, transform.ID)
	if err != nil {
		t.Fatalf("GetByID after delete: %v", err)
	}
	if !got.Deleting() {
		t.Fatalf("deleted_at not set")
	}
}
