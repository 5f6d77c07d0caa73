package importer

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/news-import/app/asset"
	"github.com/lysyi3m/news-import/app/content"
	"github.com/lysyi3m/news-import/app/database"
	"github.com/lysyi3m/news-import/app/feed"
	"github.com/lysyi3m/news-import/app/metrics"
	"github.com/lysyi3m/news-import/app/source"
	"github.com/lysyi3m/news-import/app/taxonomy"
)

const (
	// TitleMarker is appended to the title of a stub primary record while
	// its content lives on a localized variant.
	TitleMarker = " [translate to %s]"

	importDateLayout = "02.01.2006 15:04:05"
)

type importData struct {
	ImportDate string `json:"importDate"`
	Feed       string `json:"feed"`
	URL        string `json:"url"`
	GUID       string `json:"guid"`
}

// ImportKey hashes the author together with the first available identity
// of the item: id, link, title plus date, or a random fallback.
func ImportKey(fields feed.Fields) string {
	identity := cmp.Or(fields.Get(feed.FieldID), fields.Get(feed.FieldLink))
	if identity == "" && fields.Has(feed.FieldTitle) {
		identity = fields.Get(feed.FieldTitle) + "|" + fields.Get(feed.FieldPublishDate)
	}
	if identity == "" {
		identity = uuid.NewString()
	}

	sum := sha256.Sum256([]byte(fields.Get(feed.FieldAuthor) + "|" + identity))
	return hex.EncodeToString(sum[:])
}

// ImportItem assembles and saves the records of one item. It returns nil
// records when the item was imported before.
func (i *Importer) ImportItem(ctx context.Context, rc RunContext, fields feed.Fields) ([]*database.ImportRecord, error) {
	cfg := rc.Source
	key := ImportKey(fields)

	existing, err := i.recordRepo.FindByImportKey(cfg.ImportSource(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to check import key: %w", err)
	}
	if existing != nil {
		metrics.Global.IncrementItemsSkipped()
		slog.Debug("Item already imported", "source", cfg.Name, "import_key", key, "record_id", existing.ID)
		return nil, nil
	}

	records, err := i.assemble(ctx, rc, key, fields)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := i.recordRepo.SaveRecords(records); err != nil {
		return nil, fmt.Errorf("failed to save records: %w", err)
	}

	metrics.Global.AddRecordsImported(len(records))
	slog.Debug("Item imported", "source", cfg.Name, "import_key", key, "records", len(records))

	return records, nil
}

func (i *Importer) assemble(ctx context.Context, rc RunContext, key string, fields feed.Fields) ([]*database.ImportRecord, error) {
	cfg := rc.Source
	language := cfg.Target.Language

	body := i.body(ctx, cfg, fields)
	blocks := resolveImageSources(i.segmenter.Run(body), fields.Get(feed.FieldLink))

	teaser := content.Teaser(blocks)
	if teaser == "" && fields.Has(feed.FieldDescription) {
		teaser = content.Teaser(i.segmenter.Run(wrapPlainText(fields.Get(feed.FieldDescription))))
	}

	categories, err := i.resolver.Resolve(ctx, database.KindCategory, fields.Get(feed.FieldCategories), taxonomy.Target{
		ContainerID: cfg.Target.CategoryContainerID,
		Language:    language,
		Mapping:     cfg.CategoryMapping,
		AutoCreate:  cfg.Settings.AutoCreateTaxonomy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve categories: %w", err)
	}

	tags, err := i.resolver.Resolve(ctx, database.KindTag, fields.Get(feed.FieldTags), taxonomy.Target{
		ContainerID: cfg.Target.TagContainerID,
		Language:    language,
		AutoCreate:  cfg.Settings.AutoCreateTaxonomy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tags: %w", err)
	}

	assets, err := i.materializeAssets(ctx, cfg, blocks, content.LeadImage(blocks))
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		if enclosure := i.materializeEnclosure(ctx, cfg, key, fields); enclosure != nil {
			assets = append(assets, *enclosure)
		}
	}

	contentBlocks, err := toContentBlocks(blocks, language)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(importData{
		ImportDate: rc.StartedAt.In(i.location).Format(importDateLayout),
		Feed:       cfg.Path,
		URL:        fields.Get(feed.FieldLink),
		GUID:       fields.Get(feed.FieldGUID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode import data: %w", err)
	}

	title := strings.TrimSpace(fields.Get(feed.FieldTitle))
	if title == "" {
		title = "Untitled " + key[:8]
	}

	record := &database.ImportRecord{
		ImportSource: cfg.ImportSource(),
		ImportKey:    key,
		SourceName:   cfg.Name,
		ContainerID:  cfg.Target.ContainerID,
		RunID:        rc.RunID,
		Type:         database.RecordTypeNews,
		Title:        title,
		Teaser:       teaser,
		Author:       fields.Get(feed.FieldAuthor),
		AuthorEmail:  fields.Get(feed.FieldAuthorEmail),
		Link:         fields.Get(feed.FieldLink),
		PublishedAt:  i.publishDate(fields),
		Hidden:       !strings.EqualFold(strings.TrimSpace(fields.Get(feed.FieldStatus)), "publish"),
		ImportData:   string(data),
		CreatedBy:    rc.User,
		CreatedAt:    rc.StartedAt,
		Blocks:       contentBlocks,
		Assets:       assets,
		Categories:   categories,
		Tags:         tags,
	}

	if cfg.Settings.PersistAsExternalURL {
		record.Type = database.RecordTypeExternal
		record.ExternalURL = record.Link
	}

	if language == "" {
		return []*database.ImportRecord{record}, nil
	}

	return localize(record, language), nil
}

// localize splits record into a metadata-only primary carrying the title
// marker and a variant in language that owns content, media and taxonomy.
func localize(record *database.ImportRecord, language string) []*database.ImportRecord {
	variant := *record
	variant.ImportKey = record.ImportKey + "_" + language
	variant.ParentKey = record.ImportKey
	variant.Language = language

	primary := *record
	primary.Title = record.Title + fmt.Sprintf(TitleMarker, language)
	primary.Teaser = ""
	primary.Blocks = nil
	primary.Assets = nil
	primary.Categories = nil
	primary.Tags = nil

	variant.Title = strings.TrimSuffix(primary.Title, fmt.Sprintf(TitleMarker, language))

	return []*database.ImportRecord{&primary, &variant}
}

func (i *Importer) body(ctx context.Context, cfg *source.Config, fields feed.Fields) string {
	body := feed.CleanBody(fields.Get(feed.FieldContent))
	if strings.TrimSpace(body) != "" {
		return wrapPlainText(body)
	}

	link := fields.Get(feed.FieldLink)
	if !cfg.Settings.ExtractContent || i.extractor == nil || link == "" {
		return ""
	}

	extracted, err := i.extractor.Extract(ctx, link)
	if err != nil {
		slog.Warn("Content extraction failed", "source", cfg.Name, "link", link, "error", err)
		return ""
	}

	return feed.CleanBody(extracted)
}

var markup = regexp.MustCompile(`<[A-Za-z/!]`)

// wrapPlainText turns a body without markup into one paragraph per line.
func wrapPlainText(body string) string {
	if markup.MatchString(body) {
		return body
	}

	var sb strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			sb.WriteString("<p>")
			sb.WriteString(html.EscapeString(line))
			sb.WriteString("</p>")
		}
	}
	return sb.String()
}

func (i *Importer) publishDate(fields feed.Fields) *time.Time {
	value := strings.TrimSpace(fields.Get(feed.FieldPublishDate))
	if value == "" {
		return nil
	}

	t, err := dateparse.ParseIn(value, i.location)
	if err != nil {
		slog.Debug("Unparseable publish date", "value", value, "error", err)
		return nil
	}

	t = t.UTC()
	return &t
}

type assetJob struct {
	block int
	ref   content.ImageRef
}

// resolveImageSources makes relative image sources absolute against the
// item link. Sources that cannot be resolved are left as they are.
func resolveImageSources(blocks []content.Block, link string) []content.Block {
	base, err := url.Parse(link)
	if err != nil || !base.IsAbs() {
		return blocks
	}

	for b := range blocks {
		for n, img := range blocks[b].Images {
			blocks[b].Images[n].Src = resolveReference(base, img.Src)
			if img.Link != "" {
				blocks[b].Images[n].Link = resolveReference(base, img.Link)
			}
		}
	}
	return blocks
}

func resolveReference(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// materializeAssets fetches every image of every block concurrently. The
// lead image becomes the lead asset when it succeeds.
func (i *Importer) materializeAssets(ctx context.Context, cfg *source.Config, blocks []content.Block, lead content.ImageRef) ([]database.RecordAsset, error) {
	var jobs []assetJob
	for position, block := range blocks {
		for _, ref := range block.Images {
			jobs = append(jobs, assetJob{block: position, ref: ref})
		}
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	handles := make([]*asset.Handle, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.assetConcurrency)

	for n, job := range jobs {
		g.Go(func() error {
			handle, err := i.assets.Materialize(gctx, job.ref, cfg.Settings.AssetKey)
			if errors.Is(err, asset.ErrEmptyReference) {
				return nil
			}
			if err != nil {
				metrics.Global.IncrementAssetsFailed()
				slog.Warn("Asset skipped", "source", cfg.Name, "url", job.ref.Src, "error", err)
				return nil
			}
			handles[n] = handle
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var assets []database.RecordAsset
	for n, job := range jobs {
		if job.ref == lead {
			if handles[n] != nil {
				assets = append(assets, recordAsset(handles[n], database.AssetRoleLead, -1))
			}
			break
		}
	}
	for n, handle := range handles {
		if handle != nil {
			assets = append(assets, recordAsset(handle, database.AssetRoleInline, jobs[n].block))
		}
	}

	return assets, nil
}

// materializeEnclosure stores a supported feed enclosure when the body has
// no images. Images become the lead asset, other types an attachment.
func (i *Importer) materializeEnclosure(ctx context.Context, cfg *source.Config, key string, fields feed.Fields) *database.RecordAsset {
	src := fields.Get(feed.FieldEnclosureURL)
	if base, err := url.Parse(fields.Get(feed.FieldLink)); err == nil && base.IsAbs() {
		src = resolveReference(base, src)
	}
	mimeType := fields.Get(feed.FieldEnclosureType)

	storagePath, ok := asset.EnclosurePath(cmp.Or(fields.Get(feed.FieldID), key), src, mimeType)
	if !ok {
		return nil
	}

	handle, err := i.assets.MaterializeAt(ctx, content.ImageRef{Src: src, Title: fields.Get(feed.FieldTitle)}, storagePath)
	if err != nil {
		metrics.Global.IncrementAssetsFailed()
		slog.Warn("Enclosure skipped", "source", cfg.Name, "url", src, "error", err)
		return nil
	}

	role := database.AssetRoleEnclosure
	if asset.IsImageType(mimeType) {
		role = database.AssetRoleLead
	}

	ra := recordAsset(handle, role, -1)
	return &ra
}

func recordAsset(h *asset.Handle, role string, block int) database.RecordAsset {
	return database.RecordAsset{
		Role:          role,
		BlockPosition: block,
		Path:          h.Path,
		Hash:          h.Hash,
		MimeType:      h.MimeType,
		Size:          h.Size,
		SourceURL:     h.SourceURL,
		Alt:           h.Alt,
		Title:         h.Title,
		Link:          h.Link,
	}
}

func toContentBlocks(blocks []content.Block, language string) ([]database.ContentBlock, error) {
	result := make([]database.ContentBlock, 0, len(blocks))

	for position, block := range blocks {
		if block.Text == nil {
			block.Text = []content.Node{}
		}
		if block.Images == nil {
			block.Images = []content.ImageRef{}
		}

		text, err := json.Marshal(block.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to encode block text: %w", err)
		}
		images, err := json.Marshal(block.Images)
		if err != nil {
			return nil, fmt.Errorf("failed to encode block images: %w", err)
		}

		result = append(result, database.ContentBlock{
			Position:   position,
			Language:   language,
			GroupClass: block.GroupClass,
			TextJSON:   string(text),
			ImagesJSON: string(images),
		})
	}

	return result, nil
}
