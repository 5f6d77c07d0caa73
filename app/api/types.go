package api

import (
	"github.com/lysyi3m/news-import/app/database"
	"github.com/lysyi3m/news-import/app/export"
	"github.com/lysyi3m/news-import/app/source"
	"github.com/lysyi3m/news-import/app/tasks"
)

type GeneratorInterface interface {
	Run(channel export.Channel, records []database.ImportRecord) (string, error)
}

var _ GeneratorInterface = (*export.Generator)(nil)

type Handler struct {
	recordRepo   database.RecordRepository
	sourceRepo   database.SourceRepository
	taxonomyRepo database.TaxonomyRepository
	generator    GeneratorInterface
	configCache  *source.ConfigCache
	scheduler    tasks.TaskSchedulerInterface
	baseURL      string
	version      string
}
