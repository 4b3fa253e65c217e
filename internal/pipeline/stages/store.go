// Package stages holds the shipped stage handlers: store, check, upgrade and
// compile. Each is idempotent under at-least-once delivery: interned content
// and unique-key upserts make replays converge on the same rows.
package stages

import (
	"encoding/json"
	"fmt"
	"os"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pipeline"
)

// ParsedItem is one parseable unit of a file, as produced by a Reader.
type ParsedItem struct {
	Number      int
	PackageData map[string]interface{}
	Releases    []map[string]interface{}
	Records     []map[string]interface{}
}

// Reader turns a file into its items. Format auto-detection lives behind
// this boundary; the shipped implementation handles plain JSON documents and
// JSON arrays of release/record packages.
type Reader interface {
	Read(filename, url string) ([]ParsedItem, error)
}

type jsonReader struct{}

func NewJSONReader() Reader { return jsonReader{} }

func (jsonReader) Read(filename, url string) ([]ParsedItem, error) {
	if filename == "" {
		return nil, fmt.Errorf("no local filename for %q", url)
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}

	var docs []map[string]interface{}
	var asArray []map[string]interface{}
	if err := json.Unmarshal(raw, &asArray); err == nil {
		docs = asArray
	} else {
		var single map[string]interface{}
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filename, err)
		}
		docs = []map[string]interface{}{single}
	}

	items := make([]ParsedItem, 0, len(docs))
	for i, doc := range docs {
		item := ParsedItem{Number: i + 1, PackageData: map[string]interface{}{}}
		switch {
		case doc["releases"] != nil:
			item.Releases = embedded(doc["releases"])
			item.PackageData = withoutKey(doc, "releases")
		case doc["records"] != nil:
			item.Records = embedded(doc["records"])
			item.PackageData = withoutKey(doc, "records")
		default:
			// A bare release with no enclosing package.
			item.Releases = []map[string]interface{}{doc}
		}
		items = append(items, item)
	}
	return items, nil
}

func embedded(v interface{}) []map[string]interface{} {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func withoutKey(doc map[string]interface{}, key string) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k != key {
			out[k] = v
		}
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// Store parses a file's contents into items and persists the normalized
// releases and records with deduplicated content.
type Store struct {
	reader Reader
}

func NewStore(reader Reader) *Store { return &Store{reader: reader} }

func (s *Store) Name() string { return types.StepStore }

func (s *Store) Run(jc *pipeline.StageContext) error {
	parsed, err := s.reader.Read(jc.File.Filename, jc.File.URL)
	if err != nil {
		return err
	}

	for _, p := range parsed {
		item, err := jc.Stores.Items.Upsert(jc.DBC, &types.CollectionFileItem{
			CollectionFileID: jc.File.ID,
			Number:           p.Number,
		})
		if err != nil {
			return err
		}
		if err := jc.Tracker.OpenItem(jc.DBC, item.ID); err != nil {
			return err
		}

		// Replay detection: an item that already has rows was fully stored
		// by a previous delivery.
		if existing, err := jc.Stores.Releases.GetByItemID(jc.DBC, item.ID); err != nil {
			return err
		} else if len(existing) > 0 {
			continue
		}
		if existing, err := jc.Stores.Records.GetByItemID(jc.DBC, item.ID); err != nil {
			return err
		} else if len(existing) > 0 {
			continue
		}

		pkg, err := jc.Stores.Content.InternPackageData(jc.DBC, p.PackageData)
		if err != nil {
			return err
		}

		releases := make([]*types.Release, 0, len(p.Releases))
		for _, body := range p.Releases {
			data, err := jc.Stores.Content.InternData(jc.DBC, body)
			if err != nil {
				return err
			}
			releases = append(releases, &types.Release{
				CollectionFileItemID: item.ID,
				ReleaseID:            stringField(body, "id"),
				Ocid:                 stringField(body, "ocid"),
				DataID:               data.ID,
				PackageDataID:        pkg.ID,
			})
		}
		if _, err := jc.Stores.Releases.CreateMany(jc.DBC, releases); err != nil {
			return err
		}

		records := make([]*types.Record, 0, len(p.Records))
		for _, body := range p.Records {
			data, err := jc.Stores.Content.InternData(jc.DBC, body)
			if err != nil {
				return err
			}
			records = append(records, &types.Record{
				CollectionFileItemID: item.ID,
				Ocid:                 stringField(body, "ocid"),
				DataID:               data.ID,
				PackageDataID:        pkg.ID,
			})
		}
		if _, err := jc.Stores.Records.CreateMany(jc.DBC, records); err != nil {
			return err
		}
	}
	return nil
}
