package database

import (
	"time"
)

type RecordRepository interface {
	FindByImportKey(importSource, importKey string) (*ImportRecord, error)
	SaveRecords(records []*ImportRecord) error
	DeleteBySource(importSource, containerID string) (int64, error)

	ListRecords(filter RecordFilter) ([]ImportRecord, error)
	GetRecord(id int64) (*ImportRecord, error)
	CountRecords(sourceName string) (int, error)
}

type TaxonomyRepository interface {
	FindCategoryByTitle(titleKey string) (*TaxonomyEntry, error)
	CreateCategory(title, titleKey, containerID string) (*TaxonomyEntry, error)
	FindTagByTitle(titleKey string) (*TaxonomyEntry, error)
	CreateTag(title, titleKey, containerID string) (*TaxonomyEntry, error)

	FindLocalized(kind string, parentID int64, language string) (*TaxonomyEntry, error)
	CreateLocalized(kind string, parent *TaxonomyEntry, language string) (*TaxonomyEntry, error)

	CountTaxonomy(kind string) (int, error)
}

type SourceRepository interface {
	GetSource(name string) (*Source, error)
	GetSources() ([]Source, error)
	UpsertSource(name, path, format string, enabled bool) error
	UpdateRunStatus(name, status, errMsg string, imported int, nextRun time.Time) error
}
