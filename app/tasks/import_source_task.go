package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/news-import/app/database"
	"github.com/lysyi3m/news-import/app/feed"
	"github.com/lysyi3m/news-import/app/importer"
	"github.com/lysyi3m/news-import/app/metrics"
	"github.com/lysyi3m/news-import/app/source"
)

const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

type ImportSourceTask struct {
	Task
	SourceConfig *source.Config
	Force        bool // run even when the source is disabled
	runner       ImportRunner
	sourceRepo   database.SourceRepository
	user         string
}

func NewImportSourceTask(sourceName string, sourceConfig *source.Config, runner ImportRunner, sourceRepo database.SourceRepository, user string) *ImportSourceTask {
	return &ImportSourceTask{
		Task:         NewTask(TaskTypeImportSource, sourceName),
		SourceConfig: sourceConfig,
		runner:       runner,
		sourceRepo:   sourceRepo,
		user:         user,
	}
}

func (t *ImportSourceTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.SourceConfig.Settings.Enabled && !t.Force {
		slog.Debug("Source disabled, skipping", "source", t.SourceName)
		return nil
	}

	rc := importer.NewRunContext(t.SourceConfig, t.user)
	stats, err := t.runner.Run(ctx, rc)

	metrics.Global.RecordRun(t.GetDuration(), err)

	status, errMsg := RunStatusSuccess, ""
	if err != nil {
		status, errMsg = RunStatusFailed, err.Error()
	}

	nextRun := time.Now().UTC().Add(t.SourceConfig.Settings.GetRefreshInterval())
	if updateErr := t.sourceRepo.UpdateRunStatus(t.SourceName, status, errMsg, stats.Imported, nextRun); updateErr != nil {
		slog.Warn("Failed to update source run status", "source", t.SourceName, "error", updateErr)
	}

	if err != nil {
		// A malformed export will not fix itself on retry.
		if errors.Is(err, feed.ErrFieldCount) {
			t.DisableRetry()
		}
		return fmt.Errorf("failed to import source: %w", err)
	}

	slog.Info("Task completed",
		"type", "ImportSource",
		"source", t.SourceName,
		"run_id", rc.RunID,
		"duration", t.GetDuration(),
		"total", stats.Total,
		"imported", stats.Imported,
		"skipped", stats.Skipped,
		"filtered", stats.Filtered,
		"records", stats.Records)

	return nil
}
