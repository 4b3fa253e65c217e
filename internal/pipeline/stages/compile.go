package stages

import (
	"fmt"
	"sort"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pipeline"
	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
)

// Compile merges each contracting process's releases into a single compiled
// release in a sibling transform collection. Compilation needs the full set
// of releases, so it defers until the source collection is closed; the
// runner requeues the job until the loader ends the load.
type Compile struct{}

func NewCompile() *Compile { return &Compile{} }

func (c *Compile) Name() string { return types.TransformCompile }

func (c *Compile) Run(jc *pipeline.StageContext) error {
	if !jc.Collection.Closed() {
		return fmt.Errorf("collection %s is still open: %w", jc.Collection.ID, apperr.ErrDeferred)
	}

	target, err := ensureTransform(jc, types.TransformCompile)
	if err != nil {
		return err
	}
	file, err := mirrorFile(jc, target)
	if err != nil {
		return err
	}

	items, err := jc.Stores.Items.GetByFileID(jc.DBC, jc.File.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		mirrored, err := mirrorItem(jc, file.ID, item.Number)
		if err != nil {
			return err
		}
		if existing, err := jc.Stores.Compiled.GetByItemID(jc.DBC, mirrored.ID); err != nil {
			return err
		} else if len(existing) > 0 {
			continue
		}

		releases, err := jc.Stores.Releases.GetByItemID(jc.DBC, item.ID)
		if err != nil {
			return err
		}

		byOcid := make(map[string][]map[string]interface{})
		order := make([]string, 0)
		for _, release := range releases {
			row, err := jc.Stores.Content.GetData(jc.DBC, release.DataID)
			if err != nil {
				return err
			}
			body, err := decodeJSON(row.Data)
			if err != nil {
				return err
			}
			if _, seen := byOcid[release.Ocid]; !seen {
				order = append(order, release.Ocid)
			}
			byOcid[release.Ocid] = append(byOcid[release.Ocid], body)
		}

		compiled := make([]*types.CompiledRelease, 0, len(order))
		for _, ocid := range order {
			merged := mergeReleases(ocid, byOcid[ocid])
			data, err := jc.Stores.Content.InternData(jc.DBC, merged)
			if err != nil {
				return err
			}
			compiled = append(compiled, &types.CompiledRelease{
				CollectionFileItemID: mirrored.ID,
				Ocid:                 ocid,
				DataID:               data.ID,
			})
		}
		if _, err := jc.Stores.Compiled.CreateMany(jc.DBC, compiled); err != nil {
			return err
		}
	}
	return nil
}

// mergeReleases folds a process's releases, oldest first, into one document.
// Later releases overwrite earlier top-level fields; the result is tagged as
// compiled and dated from the newest release.
func mergeReleases(ocid string, releases []map[string]interface{}) map[string]interface{} {
	sort.SliceStable(releases, func(i, j int) bool {
		di, _ := releases[i]["date"].(string)
		dj, _ := releases[j]["date"].(string)
		return di < dj
	})

	merged := make(map[string]interface{})
	for _, release := range releases {
		for k, v := range release {
			merged[k] = v
		}
	}
	merged["ocid"] = ocid
	merged["tag"] = []string{"compiled"}
	merged["id"] = ocid
	if len(releases) > 0 {
		if date, ok := releases[len(releases)-1]["date"].(string); ok {
			merged["date"] = date
		}
	}
	return merged
}
