package importer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/news-import/app/asset"
	"github.com/lysyi3m/news-import/app/content"
	"github.com/lysyi3m/news-import/app/source"
	"github.com/lysyi3m/news-import/app/taxonomy"
)

// RunContext carries the values shared by every item of one batch.
type RunContext struct {
	RunID     string
	StartedAt time.Time
	User      string
	Source    *source.Config
}

func NewRunContext(cfg *source.Config, user string) RunContext {
	return RunContext{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		User:      user,
		Source:    cfg,
	}
}

type Stats struct {
	Total    int `json:"total"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Filtered int `json:"filtered"`
	Records  int `json:"records"`
}

type AssetMaterializer interface {
	Materialize(ctx context.Context, ref content.ImageRef, key source.AssetKey) (*asset.Handle, error)
	MaterializeAt(ctx context.Context, ref content.ImageRef, storagePath string) (*asset.Handle, error)
}

type TaxonomyResolver interface {
	Resolve(ctx context.Context, kind, raw string, target taxonomy.Target) ([]string, error)
}

type ContentExtractor interface {
	Extract(ctx context.Context, link string) (string, error)
}
