package stages

import (
	"reflect"
	"testing"
)

func TestMergeReleasesOverlaysByDate(t *testing.T) {
	merged := mergeReleases("ocds-1", []map[string]interface{}{
		{
			"ocid": "ocds-1", "id": "r2", "date": "2024-02-01T00:00:00Z",
			"tag":   []interface{}{"tenderUpdate"},
			"title": "updated",
		},
		{
			"ocid": "ocds-1", "id": "r1", "date": "2024-01-01T00:00:00Z",
			"tag":      []interface{}{"tender"},
			"title":    "original",
			"buyer":    map[string]interface{}{"name": "agency"},
			"planning": "kept",
		},
	})

	if merged["title"] != "updated" {
		t.Fatalf("newest release should win overlapping fields, got %v", merged["title"])
	}
	if merged["planning"] != "kept" {
		t.Fatalf("fields only present in older releases must survive")
	}
	if merged["date"] != "2024-02-01T00:00:00Z" {
		t.Fatalf("compiled date should come from the newest release, got %v", merged["date"])
	}
	if merged["id"] != "ocds-1" || merged["ocid"] != "ocds-1" {
		t.Fatalf("compiled release is identified by its ocid")
	}
	if !reflect.DeepEqual(merged["tag"], []string{"compiled"}) {
		t.Fatalf("tag: want=[compiled] got=%v", merged["tag"])
	}
}

func TestMergeReleasesSingle(t *testing.T) {
	merged := mergeReleases("ocds-2", []map[string]interface{}{
		{"ocid": "ocds-2", "id": "only", "date": "2024-01-01T00:00:00Z", "title": "t"},
	})
	if merged["title"] != "t" || merged["date"] != "2024-01-01T00:00:00Z" {
		t.Fatalf("single release should pass through: %v", merged)
	}
}

func TestUpgradeBodyBumpsVersion(t *testing.T) {
	in := map[string]interface{}{"ocid": "ocds-1", "version": "1.0"}
	out := upgradeBody(in)
	if out["version"] != "1.1" {
		t.Fatalf("version: want=1.1 got=%v", out["version"])
	}
	if in["version"] != "1.0" {
		t.Fatalf("input must not be mutated")
	}
	if out["ocid"] != "ocds-1" {
		t.Fatalf("other fields must carry over")
	}
}
