package stages_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/tenderbase/procure-backend/internal/data/repos/testutil"
	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pipeline"
	"github.com/tenderbase/procure-backend/internal/pipeline/stages"
	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/tracker"
)

// fixedReader feeds handlers without touching the filesystem.
type fixedReader struct {
	items []stages.ParsedItem
}

func (r fixedReader) Read(filename, url string) ([]stages.ParsedItem, error) {
	return r.items, nil
}

func stageContext(tb testing.TB, tx *gorm.DB, c *types.Collection, f *types.CollectionFile) *pipeline.StageContext {
	tb.Helper()
	log := testutil.Logger(tb)
	stores := pipeline.NewStores(tx, log)
	ctx := context.Background()
	return &pipeline.StageContext{
		Ctx:        ctx,
		DBC:        dbctx.WithTx(ctx, tx),
		Collection: c,
		File:       f,
		Stores:     stores,
		Tracker:    tracker.New(stores.Files, stores.Items, log),
		Log:        log,
	}
}

func releasePackage(ocid, id, date string) stages.ParsedItem {
	return stages.ParsedItem{
		Number:      1,
		PackageData: map[string]interface{}{"uri": "https://example.com/" + id},
		Releases: []map[string]interface{}{
			{"ocid": ocid, "id": id, "date": date, "tag": []interface{}{"tender"}},
		},
	}
}

func TestStoreStagePersistsReleases(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, tx, "stage-a")
	f := testutil.SeedFile(t, ctx, tx, c.ID, "pkg.json")
	jc := stageContext(t, tx, c, f)

	store := stages.NewStore(fixedReader{items: []stages.ParsedItem{
		releasePackage("ocds-1", "r1", "2024-01-01T00:00:00Z"),
	}})
	if err := store.Run(jc); err != nil {
		t.Fatalf("store run: %v", err)
	}

	items, err := jc.Stores.Items.GetByFileID(jc.DBC, f.ID)
	if err != nil {
		t.Fatalf("GetByFileID: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items: want=1 got=%d", len(items))
	}
	releases, err := jc.Stores.Releases.GetByItemID(jc.DBC, items[0].ID)
	if err != nil {
		t.Fatalf("GetByItemID: %v", err)
	}
	if len(releases) != 1 || releases[0].Ocid != "ocds-1" || releases[0].ReleaseID != "r1" {
		t.Fatalf("release rows wrong: %+v", releases)
	}

	// Replay must not duplicate anything.
	if err := store.Run(jc); err != nil {
		t.Fatalf("store replay: %v", err)
	}
	releases, err = jc.Stores.Releases.GetByItemID(jc.DBC, items[0].ID)
	if err != nil {
		t.Fatalf("GetByItemID after replay: %v", err)
	}
	if len(releases) != 1 {
		t.Fatalf("replay duplicated releases: %d", len(releases))
	}
}

func TestStoreStageDeduplicatesContentAcrossItems(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, tx, "stage-b")
	f1 := testutil.SeedFile(t, ctx, tx, c.ID, "one.json")
	f2 := testutil.SeedFile(t, ctx, tx, c.ID, "two.json")

	// The same release body arrives in two different files.
	item := releasePackage("ocds-dup", "r1", "2024-01-01T00:00:00Z")
	store := stages.NewStore(fixedReader{items: []stages.ParsedItem{item}})

	jc1 := stageContext(t, tx, c, f1)
	if err := store.Run(jc1); err != nil {
		t.Fatalf("store run f1: %v", err)
	}
	jc2 := stageContext(t, tx, c, f2)
	if err := store.Run(jc2); err != nil {
		t.Fatalf("store run f2: %v", err)
	}

	releases, err := jc1.Stores.Releases.GetByCollectionID(jc1.DBC, c.ID)
	if err != nil {
		t.Fatalf("GetByCollectionID: %v", err)
	}
	if len(releases) != 2 {
		t.Fatalf("releases: want=2 got=%d", len(releases))
	}
	if releases[0].DataID != releases[1].DataID {
		t.Fatalf("identical bodies must intern to one data row")
	}
}

func TestCheckStageWritesResults(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, tx, "stage-c")
	f := testutil.SeedFile(t, ctx, tx, c.ID, "pkg.json")
	jc := stageContext(t, tx, c, f)

	store := stages.NewStore(fixedReader{items: []stages.ParsedItem{
		releasePackage("ocds-2", "r2", "2024-02-01T00:00:00Z"),
	}})
	if err := store.Run(jc); err != nil {
		t.Fatalf("store run: %v", err)
	}
	if err := stages.NewCheck().Run(jc); err != nil {
		t.Fatalf("check run: %v", err)
	}

	items, err := jc.Stores.Items.GetByFileID(jc.DBC, f.ID)
	if err != nil {
		t.Fatalf("GetByFileID: %v", err)
	}
	releases, err := jc.Stores.Releases.GetByItemID(jc.DBC, items[0].ID)
	if err != nil {
		t.Fatalf("GetByItemID: %v", err)
	}
	checks, err := jc.Stores.Checks.GetReleaseChecks(jc.DBC, releases[0].ID)
	if err != nil {
		t.Fatalf("GetReleaseChecks: %v", err)
	}
	if len(checks) != 1 {
		t.Fatalf("checks: want=1 got=%d", len(checks))
	}

	// Re-running overwrites rather than duplicates.
	if err := stages.NewCheck().Run(jc); err != nil {
		t.Fatalf("check rerun: %v", err)
	}
	checks, err = jc.Stores.Checks.GetReleaseChecks(jc.DBC, releases[0].ID)
	if err != nil {
		t.Fatalf("GetReleaseChecks after rerun: %v", err)
	}
	if len(checks) != 1 {
		t.Fatalf("rerun duplicated checks: %d", len(checks))
	}
}

func TestCheckStageOldSchemaSecondPass(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, tx, "stage-d")
	c.CheckOlderDataWithSchemaVersion11 = true
	if err := tx.Model(&types.Collection{}).Where("id = ?", c.ID).
		Update("check_older_data_with_schema_version_1_1", true).Error; err != nil {
		t.Fatalf("flag update: %v", err)
	}
	f := testutil.SeedFile(t, ctx, tx, c.ID, "old.json")
	jc := stageContext(t, tx, c, f)

	// A 1.0 body triggers the second pass under the 1.1 schema.
	item := stages.ParsedItem{
		Number:      1,
		PackageData: map[string]interface{}{"uri": "https://example.com/old"},
		Releases: []map[string]interface{}{
			{"ocid": "ocds-old", "id": "r1", "date": "2024-01-01T00:00:00Z", "tag": []interface{}{"tender"}, "version": "1.0"},
		},
	}
	if err := stages.NewStore(fixedReader{items: []stages.ParsedItem{item}}).Run(jc); err != nil {
		t.Fatalf("store run: %v", err)
	}
	if err := stages.NewCheck().Run(jc); err != nil {
		t.Fatalf("check run: %v", err)
	}

	items, err := jc.Stores.Items.GetByFileID(jc.DBC, f.ID)
	if err != nil {
		t.Fatalf("GetByFileID: %v", err)
	}
	releases, err := jc.Stores.Releases.GetByItemID(jc.DBC, items[0].ID)
	if err != nil {
		t.Fatalf("GetByItemID: %v", err)
	}
	checks, err := jc.Stores.Checks.GetReleaseChecks(jc.DBC, releases[0].ID)
	if err != nil {
		t.Fatalf("GetReleaseChecks: %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("old-schema data must get two check rows, got %d", len(checks))
	}
	overrides := map[string]bool{}
	for _, chk := range checks {
		overrides[chk.OverrideSchemaVersion] = true
	}
	if !overrides[""] || !overrides["1.1"] {
		t.Fatalf("check overrides wrong: %v", overrides)
	}
}

func TestCompileStageProducesMergedRows(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, tx, "stage-e")
	f := testutil.SeedFile(t, ctx, tx, c.ID, "proc.json")
	jc := stageContext(t, tx, c, f)

	// Two releases of one process, one of another, in a single item.
	item := stages.ParsedItem{
		Number:      1,
		PackageData: map[string]interface{}{"uri": "https://example.com/proc"},
		Releases: []map[string]interface{}{
			{"ocid": "ocds-x", "id": "x1", "date": "2024-01-01T00:00:00Z", "title": "old"},
			{"ocid": "ocds-x", "id": "x2", "date": "2024-02-01T00:00:00Z", "title": "new"},
			{"ocid": "ocds-y", "id": "y1", "date": "2024-01-15T00:00:00Z"},
		},
	}
	if err := stages.NewStore(fixedReader{items: []stages.ParsedItem{item}}).Run(jc); err != nil {
		t.Fatalf("store run: %v", err)
	}

	// Compilation defers while the collection is still open.
	compile := stages.NewCompile()
	if err := compile.Run(jc); !errors.Is(err, apperr.ErrDeferred) {
		t.Fatalf("compile against an open collection must defer, got %v", err)
	}

	if _, err := jc.Stores.Collections.Close(jc.DBC, c.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	closed, err := jc.Stores.Collections.GetByID(jc.DBC, c.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	jc.Collection = closed

	if err := compile.Run(jc); err != nil {
		t.Fatalf("compile run: %v", err)
	}

	target, err := jc.Stores.Collections.GetTransform(jc.DBC, c.ID, types.TransformCompile)
	if err != nil {
		t.Fatalf("GetTransform: %v", err)
	}
	compiled, err := jc.Stores.Compiled.CountByCollectionID(jc.DBC, target.ID)
	if err != nil {
		t.Fatalf("CountByCollectionID: %v", err)
	}
	if compiled != 2 {
		t.Fatalf("compiled releases: want=2 got=%d", compiled)
	}

	// Replay converges.
	if err := compile.Run(jc); err != nil {
		t.Fatalf("compile replay: %v", err)
	}
	compiled, err = jc.Stores.Compiled.CountByCollectionID(jc.DBC, target.ID)
	if err != nil {
		t.Fatalf("CountByCollectionID after replay: %v", err)
	}
	if compiled != 2 {
		t.Fatalf("replay duplicated compiled releases: %d", compiled)
	}
}

func TestUpgradeStageBumpsStoredVersions(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, tx, "stage-f")
	f := testutil.SeedFile(t, ctx, tx, c.ID, "v10.json")
	jc := stageContext(t, tx, c, f)

	item := stages.ParsedItem{
		Number:      1,
		PackageData: map[string]interface{}{"uri": "https://example.com/v10", "version": "1.0"},
		Releases: []map[string]interface{}{
			{"ocid": "ocds-v", "id": "r1", "date": "2024-01-01T00:00:00Z", "version": "1.0"},
		},
	}
	if err := stages.NewStore(fixedReader{items: []stages.ParsedItem{item}}).Run(jc); err != nil {
		t.Fatalf("store run: %v", err)
	}
	if err := stages.NewUpgrade().Run(jc); err != nil {
		t.Fatalf("upgrade run: %v", err)
	}

	target, err := jc.Stores.Collections.GetTransform(jc.DBC, c.ID, types.TransformUpgrade10To11)
	if err != nil {
		t.Fatalf("GetTransform: %v", err)
	}
	upgraded, err := jc.Stores.Releases.GetByCollectionID(jc.DBC, target.ID)
	if err != nil {
		t.Fatalf("GetByCollectionID: %v", err)
	}
	if len(upgraded) != 1 {
		t.Fatalf("upgraded releases: want=1 got=%d", len(upgraded))
	}

	row, err := jc.Stores.Content.GetData(jc.DBC, upgraded[0].DataID)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(row.Data, &body); err != nil {
		t.Fatalf("decode upgraded body: %v", err)
	}
	if body["version"] != "1.1" {
		t.Fatalf("upgraded body version: want=1.1 got=%v", body["version"])
	}

	// Replay converges.
	if err := stages.NewUpgrade().Run(jc); err != nil {
		t.Fatalf("upgrade replay: %v", err)
	}
	upgraded, err = jc.Stores.Releases.GetByCollectionID(jc.DBC, target.ID)
	if err != nil {
		t.Fatalf("GetByCollectionID after replay: %v", err)
	}
	if len(upgraded) != 1 {
		t.Fatalf("replay duplicated upgraded releases: %d", len(upgraded))
	}
}
