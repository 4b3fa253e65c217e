package loader_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tenderbase/procure-backend/internal/data/repos"
	"github.com/tenderbase/procure-backend/internal/data/repos/testutil"
	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/loader"
	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
	"github.com/tenderbase/procure-backend/internal/queue"
	"github.com/tenderbase/procure-backend/internal/registry"
)

var mayFirst = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func newLoader(tb testing.TB, tx *gorm.DB, log *logger.Logger, q queue.Queue) (*loader.Loader, *registry.Registry) {
	tb.Helper()
	colls := repos.NewCollectionRepo(tx, log)
	notes := repos.NewCollectionNoteRepo(tx, log)
	files := repos.NewCollectionFileRepo(tx, log)
	steps := repos.NewCollectionFileStepRepo(tx, log)
	reg := registry.New(tx, colls, notes, steps, q, log)
	return loader.New(tx, reg, colls, files, steps, q, log), reg
}

func TestLoadNewCollectionPublishesStoreJobs(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	q := queue.NewMemoryQueue()
	load, _ := newLoader(t, tx, log, q)
	ctx := context.Background()

	result, err := load.Load(ctx, loader.Request{
		SourceID:    "load-a",
		DataVersion: mayFirst,
		Note:        "first intake",
		Files: []loader.FileInput{
			{Filename: "one.json"},
			{Filename: "two.json"},
		},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Accepted != 2 {
		t.Fatalf("accepted: want=2 got=%d", result.Accepted)
	}
	if got := queue.Depth(q, types.StepStore); got != 2 {
		t.Fatalf("store jobs: want=2 got=%d", got)
	}

	txc := dbctx.WithTx(ctx, tx)
	colls := repos.NewCollectionRepo(tx, log)
	c, err := colls.GetByID(txc, result.Collection.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !c.Closed() {
		t.Fatalf("load without keep-open must close the collection")
	}

	files := repos.NewCollectionFileRepo(tx, log)
	rows, err := files.GetByCollectionID(txc, c.ID)
	if err != nil {
		t.Fatalf("GetByCollectionID: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("files: want=2 got=%d", len(rows))
	}

	steps := repos.NewCollectionFileStepRepo(tx, log)
	for _, f := range rows {
		pending, err := steps.ListByFileID(txc, f.ID)
		if err != nil {
			t.Fatalf("ListByFileID: %v", err)
		}
		if len(pending) != 1 || pending[0].Name != types.StepStore {
			t.Fatalf("file %s pending steps: %+v", f.Filename, pending)
		}
	}
}

func TestAcceptFileAttachesConfiguredSteps(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	q := queue.NewMemoryQueue()
	load, _ := newLoader(t, tx, log, q)
	ctx := context.Background()

	c := testutil.SeedCollectionWithSteps(t, ctx, tx, "load-b", `["check","compile-releases"]`)

	f, err := load.AcceptFile(ctx, c.ID, "in.json", "", true)
	if err != nil {
		t.Fatalf("AcceptFile: %v", err)
	}

	steps := repos.NewCollectionFileStepRepo(tx, log)
	pending, err := steps.ListByFileID(dbctx.WithTx(ctx, tx), f.ID)
	if err != nil {
		t.Fatalf("ListByFileID: %v", err)
	}
	want := []string{types.StepStore, types.StepCheck, types.TransformCompile}
	if len(pending) != len(want) {
		t.Fatalf("pending: want=%v got=%+v", want, pending)
	}
	for i, name := range want {
		if pending[i].Name != name {
			t.Fatalf("pending[%d]: want=%s got=%s", i, name, pending[i].Name)
		}
	}
	// Only the first step gets a job now; the runner chains the rest.
	if got := queue.Depth(q, types.StepStore); got != 1 {
		t.Fatalf("store depth: want=1 got=%d", got)
	}
	if got := queue.Depth(q, types.StepCheck); got != 0 {
		t.Fatalf("check depth: want=0 got=%d", got)
	}
}

func TestAcceptFileWithoutStoreUsesConfigOnly(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	q := queue.NewMemoryQueue()
	load, _ := newLoader(t, tx, log, q)
	ctx := context.Background()

	// No configured steps and no implicit store: the file is terminal at
	// acceptance. Transform outputs arrive this way.
	c := testutil.SeedCollection(t, ctx, tx, "load-c")
	f, err := load.AcceptFile(ctx, c.ID, "out.json", "", false)
	if err != nil {
		t.Fatalf("AcceptFile: %v", err)
	}

	files := repos.NewCollectionFileRepo(tx, log)
	got, err := files.GetByID(dbctx.WithTx(ctx, tx), f.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.StoreEndAt == nil {
		t.Fatalf("stepless file must close immediately")
	}
	if depth := queue.Depth(q, types.StepStore); depth != 0 {
		t.Fatalf("no job expected, depth=%d", depth)
	}
}

func TestAcceptFileDuplicateFilename(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	load, _ := newLoader(t, tx, log, queue.NewMemoryQueue())
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, tx, "load-d")
	if _, err := load.AcceptFile(ctx, c.ID, "dup.json", "", true); err != nil {
		t.Fatalf("AcceptFile: %v", err)
	}
	if _, err := load.AcceptFile(ctx, c.ID, "dup.json", "", true); !apperr.IsConflict(err) {
		t.Fatalf("duplicate filename: want conflict, got %v", err)
	}
}

func TestLoadRequestValidation(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	load, reg := newLoader(t, tx, log, queue.NewMemoryQueue())
	ctx := context.Background()

	// Mixing new-collection options with an open collection id.
	if _, err := load.Load(ctx, loader.Request{
		SourceID:     "load-e",
		CollectionID: uuid.New(),
		Files:        []loader.FileInput{{Filename: "x.json"}},
	}); !apperr.IsValidation(err) {
		t.Fatalf("mixed addressing: want validation error, got %v", err)
	}

	// Neither addressing mode.
	if _, err := load.Load(ctx, loader.Request{
		Files: []loader.FileInput{{Filename: "x.json"}},
	}); !apperr.IsValidation(err) {
		t.Fatalf("no addressing: want validation error, got %v", err)
	}

	// A new collection requires a note.
	if _, err := load.Load(ctx, loader.Request{
		SourceID:    "load-e",
		DataVersion: mayFirst,
		Files:       []loader.FileInput{{Filename: "x.json"}},
	}); !apperr.IsValidation(err) {
		t.Fatalf("missing note: want validation error, got %v", err)
	}

	// Loading into a closed collection is refused with its state.
	created, err := reg.Create(ctx, "load-f", mayFirst, false, "n")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.Close(ctx, created.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = load.Load(ctx, loader.Request{
		CollectionID: created.ID,
		Files:        []loader.FileInput{{Filename: "x.json"}},
	})
	var conflict *apperr.ConflictError
	if !errors.As(err, &conflict) || conflict.State != apperr.StateClosed {
		t.Fatalf("closed collection: want closed conflict, got %v", err)
	}
}
