// Package tracker is the bookkeeping layer under the pipeline: open/close
// timestamps and accumulated warnings/errors for files and items.
package tracker

import (
	"time"

	"github.com/google/uuid"

	"github.com/tenderbase/procure-backend/internal/data/repos"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

type Tracker struct {
	files repos.CollectionFileRepo
	items repos.CollectionFileItemRepo
	log   *logger.Logger
}

func New(files repos.CollectionFileRepo, items repos.CollectionFileItemRepo, baseLog *logger.Logger) *Tracker {
	return &Tracker{
		files: files,
		items: items,
		log:   baseLog.With("component", "Tracker"),
	}
}

func (t *Tracker) OpenFile(dbc dbctx.Context, fileID uuid.UUID) error {
	return t.files.SetStoreStart(dbc, fileID, time.Now().UTC())
}

func (t *Tracker) CloseFile(dbc dbctx.Context, fileID uuid.UUID) error {
	return t.files.SetStoreEnd(dbc, fileID, time.Now().UTC())
}

func (t *Tracker) OpenItem(dbc dbctx.Context, itemID uuid.UUID) error {
	return t.items.SetStoreStart(dbc, itemID, time.Now().UTC())
}

func (t *Tracker) CloseItem(dbc dbctx.Context, itemID uuid.UUID) error {
	return t.items.SetStoreEnd(dbc, itemID, time.Now().UTC())
}

func (t *Tracker) RecordFileWarning(dbc dbctx.Context, fileID uuid.UUID, payload interface{}) error {
	return t.files.AppendWarning(dbc, fileID, payload)
}

func (t *Tracker) RecordFileError(dbc dbctx.Context, fileID uuid.UUID, payload interface{}) error {
	return t.files.AppendError(dbc, fileID, payload)
}

func (t *Tracker) RecordItemWarning(dbc dbctx.Context, itemID uuid.UUID, payload interface{}) error {
	return t.items.AppendWarning(dbc, itemID, payload)
}

func (t *Tracker) RecordItemError(dbc dbctx.Context, itemID uuid.UUID, payload interface{}) error {
	return t.items.AppendError(dbc, itemID, payload)
}
