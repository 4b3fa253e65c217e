package pipeline

import (
	"gorm.io/gorm"

	"github.com/tenderbase/procure-backend/internal/data/repos"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

// Stores bundles every repo a stage handler may touch.
type Stores struct {
	Collections repos.CollectionRepo
	Notes       repos.CollectionNoteRepo
	Files       repos.CollectionFileRepo
	Items       repos.CollectionFileItemRepo
	Steps       repos.CollectionFileStepRepo
	Content     repos.ContentRepo
	Releases    repos.ReleaseRepo
	Records     repos.RecordRepo
	Compiled    repos.CompiledReleaseRepo
	Checks      repos.CheckRepo
}

func NewStores(db *gorm.DB, baseLog *logger.Logger) *Stores {
	return &Stores{
		Collections: repos.NewCollectionRepo(db, baseLog),
		Notes:       repos.NewCollectionNoteRepo(db, baseLog),
		Files:       repos.NewCollectionFileRepo(db, baseLog),
		Items:       repos.NewCollectionFileItemRepo(db, baseLog),
		Steps:       repos.NewCollectionFileStepRepo(db, baseLog),
		Content:     repos.NewContentRepo(db, baseLog),
		Releases:    repos.NewReleaseRepo(db, baseLog),
		Records:     repos.NewRecordRepo(db, baseLog),
		Compiled:    repos.NewCompiledReleaseRepo(db, baseLog),
		Checks:      repos.NewCheckRepo(db, baseLog),
	}
}
