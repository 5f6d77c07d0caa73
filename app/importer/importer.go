// Package importer turns source items into import records.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/news-import/app/content"
	"github.com/lysyi3m/news-import/app/database"
	"github.com/lysyi3m/news-import/app/feed"
	"github.com/lysyi3m/news-import/app/metrics"
	"github.com/lysyi3m/news-import/app/source"
)

type Importer struct {
	readers          map[source.Format]feed.Reader
	recordRepo       database.RecordRepository
	resolver         TaxonomyResolver
	assets           AssetMaterializer
	extractor        ContentExtractor
	segmenter        *content.Segmenter
	filterer         *feed.Filterer
	assetConcurrency int
	location         *time.Location
}

func NewImporter(readers map[source.Format]feed.Reader, recordRepo database.RecordRepository, resolver TaxonomyResolver, assets AssetMaterializer, extractor ContentExtractor, assetConcurrency int, location *time.Location) *Importer {
	if assetConcurrency <= 0 {
		assetConcurrency = 1
	}
	if location == nil {
		location = time.UTC
	}

	return &Importer{
		readers:          readers,
		recordRepo:       recordRepo,
		resolver:         resolver,
		assets:           assets,
		extractor:        extractor,
		segmenter:        content.NewSegmenter(),
		filterer:         feed.NewFilterer(),
		assetConcurrency: assetConcurrency,
		location:         location,
	}
}

// Run imports every item of the run's source in order. Items already
// imported are skipped. Any error other than a per-asset or per-label
// failure stops the batch; records saved before it stay in place.
func (i *Importer) Run(ctx context.Context, rc RunContext) (Stats, error) {
	var stats Stats

	cfg := rc.Source
	if cfg == nil {
		return stats, fmt.Errorf("run has no source configuration")
	}

	reader, ok := i.readers[cfg.Format]
	if !ok {
		return stats, fmt.Errorf("no reader for format: %s", cfg.Format)
	}

	if cfg.Settings.CleanBeforeImport {
		deleted, err := i.recordRepo.DeleteBySource(cfg.ImportSource(), cfg.Target.ContainerID)
		if err != nil {
			return stats, fmt.Errorf("failed to clean previous import: %w", err)
		}
		slog.Info("Previous import removed", "source", cfg.Name, "records", deleted)
	}

	normalizer := feed.NewNormalizer(cfg.Fields)

	for raw, err := range reader.Read(ctx, cfg) {
		if err != nil {
			return stats, fmt.Errorf("failed to read source: %w", err)
		}

		stats.Total++
		metrics.Global.IncrementItemsProcessed()

		fields := normalizer.Run(raw)

		if filtered, reason := i.filterer.Run(fields, cfg.Filters); filtered {
			stats.Filtered++
			slog.Debug("Item filtered", "source", cfg.Name, "title", fields.Get(feed.FieldTitle), "reason", reason)
			continue
		}

		records, err := i.ImportItem(ctx, rc, fields)
		if err != nil {
			return stats, err
		}
		if records == nil {
			stats.Skipped++
			continue
		}

		stats.Imported++
		stats.Records += len(records)
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	slog.Debug("Import completed",
		"source", cfg.Name,
		"run_id", rc.RunID,
		"duration", time.Since(rc.StartedAt),
		"total", stats.Total,
		"imported", stats.Imported,
		"skipped", stats.Skipped,
		"filtered", stats.Filtered,
		"records", stats.Records)

	return stats, nil
}
