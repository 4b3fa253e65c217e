package stages

import (
	"github.com/google/uuid"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pipeline"
)

// Upgrade rewrites a file's releases and records from OCDS 1.0 to 1.1 into a
// sibling transform collection. The upgrade shipped here bumps the declared
// schema version on bodies and packages; field-level migrations hang off
// upgradeBody.
type Upgrade struct{}

func NewUpgrade() *Upgrade { return &Upgrade{} }

func (u *Upgrade) Name() string { return types.TransformUpgrade10To11 }

func (u *Upgrade) Run(jc *pipeline.StageContext) error {
	target, err := ensureTransform(jc, types.TransformUpgrade10To11)
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

		// A mirrored item that already has rows was written by an earlier
		// delivery of this job.
		if existing, err := jc.Stores.Releases.GetByItemID(jc.DBC, mirrored.ID); err != nil {
			return err
		} else if len(existing) > 0 {
			continue
		}
		if existing, err := jc.Stores.Records.GetByItemID(jc.DBC, mirrored.ID); err != nil {
			return err
		} else if len(existing) > 0 {
			continue
		}

		releases, err := jc.Stores.Releases.GetByItemID(jc.DBC, item.ID)
		if err != nil {
			return err
		}
		upgraded := make([]*types.Release, 0, len(releases))
		for _, release := range releases {
			dataID, pkgID, err := u.upgradeContent(jc, release.DataID, release.PackageDataID)
			if err != nil {
				return err
			}
			upgraded = append(upgraded, &types.Release{
				CollectionFileItemID: mirrored.ID,
				ReleaseID:            release.ReleaseID,
				Ocid:                 release.Ocid,
				DataID:               dataID,
				PackageDataID:        pkgID,
			})
		}
		if _, err := jc.Stores.Releases.CreateMany(jc.DBC, upgraded); err != nil {
			return err
		}

		records, err := jc.Stores.Records.GetByItemID(jc.DBC, item.ID)
		if err != nil {
			return err
		}
		upgradedRecords := make([]*types.Record, 0, len(records))
		for _, record := range records {
			dataID, pkgID, err := u.upgradeContent(jc, record.DataID, record.PackageDataID)
			if err != nil {
				return err
			}
			upgradedRecords = append(upgradedRecords, &types.Record{
				CollectionFileItemID: mirrored.ID,
				Ocid:                 record.Ocid,
				DataID:               dataID,
				PackageDataID:        pkgID,
			})
		}
		if _, err := jc.Stores.Records.CreateMany(jc.DBC, upgradedRecords); err != nil {
			return err
		}
	}
	return nil
}

func (u *Upgrade) upgradeContent(jc *pipeline.StageContext, dataID, pkgID uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	dataRow, err := jc.Stores.Content.GetData(jc.DBC, dataID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	body, err := decodeJSON(dataRow.Data)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	newData, err := jc.Stores.Content.InternData(jc.DBC, upgradeBody(body))
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	pkgRow, err := jc.Stores.Content.GetPackageData(jc.DBC, pkgID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	pkg, err := decodeJSON(pkgRow.Data)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	newPkg, err := jc.Stores.Content.InternPackageData(jc.DBC, upgradeBody(pkg))
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return newData.ID, newPkg.ID, nil
}

// upgradeBody returns a copy of doc declaring schema version 1.1. Bodies
// already at 1.1 pass through with only the copy.
func upgradeBody(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["version"] = "1.1"
	return out
}
