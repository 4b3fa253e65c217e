package stages

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pipeline"
)

// Check runs structural checks over a file's releases and records and stores
// the results. The real schema validation engine is pluggable; this shipped
// checker summarizes required-field presence, which is enough for the
// pipeline plumbing and the result model.
type Check struct{}

func NewCheck() *Check { return &Check{} }

func (c *Check) Name() string { return types.StepCheck }

func (c *Check) Run(jc *pipeline.StageContext) error {
	items, err := jc.Stores.Items.GetByFileID(jc.DBC, jc.File.ID)
	if err != nil {
		return err
	}

	for _, item := range items {
		releases, err := jc.Stores.Releases.GetByItemID(jc.DBC, item.ID)
		if err != nil {
			return err
		}
		for _, release := range releases {
			body, err := c.payload(jc, release.DataID)
			if err != nil {
				return err
			}
			output := checkOutput(body, []string{"ocid", "id", "date", "tag"})
			if err := jc.Stores.Checks.UpsertReleaseCheck(jc.DBC, release.ID, "", output); err != nil {
				return err
			}
			// Old-schema data optionally gets a second pass under the 1.1
			// schema, stored separately from the default check.
			if jc.Collection.CheckOlderDataWithSchemaVersion11 && isPre11(body) {
				if err := jc.Stores.Checks.UpsertReleaseCheck(jc.DBC, release.ID, "1.1", output); err != nil {
					return err
				}
			}
		}

		records, err := jc.Stores.Records.GetByItemID(jc.DBC, item.ID)
		if err != nil {
			return err
		}
		for _, record := range records {
			body, err := c.payload(jc, record.DataID)
			if err != nil {
				return err
			}
			output := checkOutput(body, []string{"ocid", "releases"})
			if err := jc.Stores.Checks.UpsertRecordCheck(jc.DBC, record.ID, "", output); err != nil {
				return err
			}
			if jc.Collection.CheckOlderDataWithSchemaVersion11 && isPre11(body) {
				if err := jc.Stores.Checks.UpsertRecordCheck(jc.DBC, record.ID, "1.1", output); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *Check) payload(jc *pipeline.StageContext, dataID uuid.UUID) (map[string]interface{}, error) {
	row, err := jc.Stores.Content.GetData(jc.DBC, dataID)
	if err != nil {
		return nil, err
	}
	return decodeJSON(row.Data)
}

func checkOutput(body map[string]interface{}, required []string) map[string]interface{} {
	missing := []string{}
	for _, field := range required {
		if _, ok := body[field]; !ok {
			missing = append(missing, field)
		}
	}
	return map[string]interface{}{
		"checked_at":     time.Now().UTC().Format(time.RFC3339),
		"field_count":    len(body),
		"missing_fields": missing,
		"valid":          len(missing) == 0,
	}
}

func isPre11(body map[string]interface{}) bool {
	v, _ := body["version"].(string)
	return v == "" || v == "1.0"
}

func decodeJSON(raw []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
