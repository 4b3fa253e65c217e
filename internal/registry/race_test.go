package registry_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/tenderbase/procure-backend/internal/data/repos"
	"github.com/tenderbase/procure-backend/internal/data/repos/testutil"
	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/queue"
	"github.com/tenderbase/procure-backend/internal/registry"
)

// Two operators reconfigure the same collection at once. The exclusive lock
// on the configuration read keeps one append from overwriting the other, so
// this runs with real concurrent transactions against the shared database
// rather than a rolled-back test transaction.
func TestConcurrentAddStepsBothLand(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	q := queue.NewMemoryQueue()

	colls := repos.NewCollectionRepo(db, log)
	notes := repos.NewCollectionNoteRepo(db, log)
	steps := repos.NewCollectionFileStepRepo(db, log)
	reg := registry.New(db, colls, notes, steps, q, log)

	ctx := context.Background()
	created, err := reg.Create(ctx, "race-"+uuid.NewString(), mayFirst, false, "race harness")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Exec(`DELETE FROM collection WHERE id = ?`, created.ID).Error
	})
	f := testutil.SeedFile(t, ctx, db, created.ID, "a.json")
	testutil.SeedStep(t, ctx, db, f.ID, types.StepStore, 1)

	added := []string{types.StepCheck, types.TransformCompile}
	var wg sync.WaitGroup
	errs := make(chan error, len(added))
	for _, step := range added {
		wg.Add(1)
		go func(step string) {
			defer wg.Done()
			if _, err := reg.AddStep(ctx, created.ID, step); err != nil {
				errs <- fmt.Errorf("AddStep %s: %w", step, err)
			}
		}(step)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	dbc := dbctx.New(ctx)
	got, err := colls.GetByID(dbc, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	names, err := repos.StepNames(got)
	if err != nil {
		t.Fatalf("StepNames: %v", err)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	if len(names) != len(added) || !seen[types.StepCheck] || !seen[types.TransformCompile] {
		t.Fatalf("an append was lost: %v", names)
	}

	pending, err := steps.ListByFileID(dbc, f.ID)
	if err != nil {
		t.Fatalf("ListByFileID: %v", err)
	}
	if len(pending) != 3 || pending[0].Name != types.StepStore {
		t.Fatalf("backfilled steps wrong: %+v", pending)
	}
}
