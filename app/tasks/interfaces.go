package tasks

import (
	"context"

	"github.com/lysyi3m/news-import/app/importer"
	"github.com/lysyi3m/news-import/app/source"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the API to manage background imports.
// Example usage:
//
//	scheduler := NewScheduler(configCache, sourceRepo, runner, "scheduler", time.Minute, 2)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewImportSourceTask(...))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	TriggerImport(name string) error
	SourceChanged(name string, cfg *source.Config)
}

// ImportRunner runs one import batch.
type ImportRunner interface {
	Run(ctx context.Context, rc importer.RunContext) (importer.Stats, error)
}
