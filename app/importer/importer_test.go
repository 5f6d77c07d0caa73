package importer

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/news-import/app/asset"
	"github.com/lysyi3m/news-import/app/database"
	"github.com/lysyi3m/news-import/app/feed"
	"github.com/lysyi3m/news-import/app/source"
	"github.com/lysyi3m/news-import/app/taxonomy"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type mockFetcher struct {
	mu    sync.Mutex
	data  map[string][]byte
	calls map[string]int
}

func (m *mockFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[location]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := m.data[location]
	if !ok {
		return nil, errors.New("HTTP error: 404")
	}
	return data, nil
}

type sliceReader struct {
	items []feed.RawItem
	err   error
}

func (r *sliceReader) Read(ctx context.Context, cfg *source.Config) iter.Seq2[feed.RawItem, error] {
	return func(yield func(feed.RawItem, error) bool) {
		for _, item := range r.items {
			if !yield(item, nil) {
				return
			}
		}
		if r.err != nil {
			yield(nil, r.err)
		}
	}
}

type mockExtractor struct {
	body string
	err  error
}

func (m *mockExtractor) Extract(ctx context.Context, link string) (string, error) {
	return m.body, m.err
}

type harness struct {
	importer  *Importer
	records   *database.RecordRepo
	taxonomy  *database.TaxonomyRepo
	fetcher   *mockFetcher
	extractor *mockExtractor
}

func newHarness(t *testing.T, reader feed.Reader) *harness {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "import.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	storage, err := asset.NewFileStorage(filepath.Join(t.TempDir(), "assets"))
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		records:   database.NewRecordRepository(db),
		taxonomy:  database.NewTaxonomyRepository(db),
		fetcher:   &mockFetcher{data: map[string][]byte{}},
		extractor: &mockExtractor{},
	}

	readers := map[source.Format]feed.Reader{
		source.FormatXML: reader,
		source.FormatCSV: feed.NewCSVReader(h.fetcher),
	}

	h.importer = NewImporter(readers, h.records, taxonomy.NewResolver(h.taxonomy),
		asset.NewMaterializer(h.fetcher, storage, time.Second), h.extractor, 4, time.UTC)

	return h
}

func testConfig() *source.Config {
	return &source.Config{
		Name:   "gazette",
		Path:   "https://example.com/feed.xml",
		Format: source.FormatXML,
		Target: source.ConfigTarget{ContainerID: "12", CategoryContainerID: "13", TagContainerID: "14"},
		Settings: source.ConfigSettings{
			Enabled:            true,
			AutoCreateTaxonomy: true,
			AssetKey:           source.AssetKeyBasename,
		},
		Fields: source.FieldMapping{Defaults: map[string]string{"status": "publish"}},
	}
}

func TestImportKey(t *testing.T) {
	base := feed.Fields{"author": "Jane", "id": "42", "link": "https://example.com/a"}

	if ImportKey(base) != ImportKey(feed.Fields{"author": "Jane", "id": "42"}) {
		t.Error("Expected id to take precedence over link")
	}
	if ImportKey(base) == ImportKey(feed.Fields{"author": "John", "id": "42"}) {
		t.Error("Expected author to be part of the key")
	}
	if ImportKey(feed.Fields{"link": "https://example.com/a"}) != ImportKey(feed.Fields{"link": "https://example.com/a"}) {
		t.Error("Expected link fallback to be stable")
	}
	titled := feed.Fields{"title": "Hello", "publishDate": "2024-01-01"}
	if ImportKey(titled) != ImportKey(feed.Fields{"title": "Hello", "publishDate": "2024-01-01"}) {
		t.Error("Expected title and date fallback to be stable")
	}
	if ImportKey(feed.Fields{}) == ImportKey(feed.Fields{}) {
		t.Error("Expected generated fallback for items without identity")
	}
	if len(ImportKey(base)) != 64 {
		t.Errorf("Expected hex sha256 key, got %q", ImportKey(base))
	}
}

func TestImporterIsIdempotent(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{
		{"id": "1", "title": "First", "content": "<p>One</p>"},
		{"id": "2", "title": "Second", "content": "<p>Two</p>"},
	}}
	h := newHarness(t, reader)
	cfg := testConfig()

	stats, err := h.importer.Run(context.Background(), NewRunContext(cfg, "admin"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if stats.Total != 2 || stats.Imported != 2 || stats.Records != 2 {
		t.Errorf("Expected 2 imported records, got %+v", stats)
	}

	stats, err = h.importer.Run(context.Background(), NewRunContext(cfg, "admin"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if stats.Skipped != 2 || stats.Imported != 0 {
		t.Errorf("Expected both items skipped on rerun, got %+v", stats)
	}

	if count, _ := h.records.CountRecords("gazette"); count != 2 {
		t.Errorf("Expected exactly 2 records, got %d", count)
	}
}

func TestImporterAssemblesRecord(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{{
		"id":          "1",
		"title":       "  Council meets  ",
		"author":      "Jane",
		"link":        "https://example.com/council",
		"guid":        "urn:1",
		"publishDate": "2024-03-01T09:30:00Z",
		"categories":  "Politics, politics",
		"tags":        "city",
		"content":     `<p>A &amp; B</p><div class="gallery"><img src="https://cdn.example.com/x.png" alt="X"><img src="https://cdn.example.com/y.png"></div><p>Tail</p>`,
	}}}
	h := newHarness(t, reader)
	h.fetcher.data["https://cdn.example.com/x.png"] = pngBytes
	h.fetcher.data["https://cdn.example.com/y.png"] = pngBytes

	cfg := testConfig()
	rc := NewRunContext(cfg, "admin")

	if _, err := h.importer.Run(context.Background(), rc); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	list, _ := h.records.ListRecords(database.RecordFilter{})
	if len(list) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(list))
	}
	rec, err := h.records.GetRecord(list[0].ID)
	if err != nil {
		t.Fatal(err)
	}

	if rec.Title != "Council meets" || rec.Hidden || rec.Type != database.RecordTypeNews {
		t.Errorf("Unexpected record metadata: %+v", rec)
	}
	if rec.Teaser != "A & B" {
		t.Errorf("Expected teaser 'A & B', got %q", rec.Teaser)
	}
	if rec.RunID != rc.RunID || rec.CreatedBy != "admin" || rec.ImportSource != "news_import_xml" {
		t.Errorf("Expected run context on record, got %+v", rec)
	}
	if rec.PublishedAt == nil || !rec.PublishedAt.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("Expected parsed publish date, got %v", rec.PublishedAt)
	}

	if len(rec.Blocks) != 2 {
		t.Fatalf("Expected 2 blocks, got %d", len(rec.Blocks))
	}
	if rec.Blocks[0].GroupClass != "gallery" || !strings.Contains(rec.Blocks[0].ImagesJSON, "x.png") {
		t.Errorf("Unexpected first block: %+v", rec.Blocks[0])
	}
	if rec.Blocks[1].ImagesJSON != "[]" {
		t.Errorf("Expected trailing text block without images, got %s", rec.Blocks[1].ImagesJSON)
	}

	if len(rec.Assets) != 3 {
		t.Fatalf("Expected lead and 2 inline assets, got %+v", rec.Assets)
	}
	if rec.Assets[0].Role != database.AssetRoleLead || rec.Assets[0].Path != "uploads/x.png" || rec.Assets[0].Alt != "X" {
		t.Errorf("Expected lead asset x.png, got %+v", rec.Assets[0])
	}

	if len(rec.Categories) != 2 || rec.Categories[0] != rec.Categories[1] {
		t.Errorf("Expected one category referenced twice, got %v", rec.Categories)
	}
	if count, _ := h.taxonomy.CountTaxonomy(database.KindCategory); count != 1 {
		t.Errorf("Expected 1 category entry, got %d", count)
	}
	if len(rec.Tags) != 1 {
		t.Errorf("Expected 1 tag, got %v", rec.Tags)
	}

	var data map[string]string
	if err := json.Unmarshal([]byte(rec.ImportData), &data); err != nil {
		t.Fatal(err)
	}
	if data["feed"] != cfg.Path || data["url"] != "https://example.com/council" || data["guid"] != "urn:1" || data["importDate"] == "" {
		t.Errorf("Unexpected import data: %v", data)
	}
}

func TestImporterAssetFailureKeepsItem(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{{
		"id":      "1",
		"title":   "Photos",
		"content": `<p>Text</p><div><img src="https://cdn.example.com/missing.png"><img src="https://cdn.example.com/y.png"></div>`,
	}}}
	h := newHarness(t, reader)
	h.fetcher.data["https://cdn.example.com/y.png"] = pngBytes

	stats, err := h.importer.Run(context.Background(), NewRunContext(testConfig(), "admin"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if stats.Imported != 1 {
		t.Fatalf("Expected item to be imported, got %+v", stats)
	}

	list, _ := h.records.ListRecords(database.RecordFilter{})
	rec, _ := h.records.GetRecord(list[0].ID)

	if len(rec.Assets) != 1 || rec.Assets[0].Role != database.AssetRoleInline || rec.Assets[0].Path != "uploads/y.png" {
		t.Errorf("Expected only the inline asset that succeeded, got %+v", rec.Assets)
	}
}

func TestImporterResolvesRelativeImages(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{{
		"id":      "1",
		"title":   "Relative",
		"link":    "https://example.com/news/article",
		"content": `<p>Text</p><div><img src="/img/a.png"><img src="b.png"></div>`,
	}}}
	h := newHarness(t, reader)
	h.fetcher.data["https://example.com/img/a.png"] = pngBytes
	h.fetcher.data["https://example.com/news/b.png"] = pngBytes

	if _, err := h.importer.Run(context.Background(), NewRunContext(testConfig(), "admin")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	list, _ := h.records.ListRecords(database.RecordFilter{})
	rec, _ := h.records.GetRecord(list[0].ID)

	if len(rec.Assets) != 3 {
		t.Fatalf("Expected lead and 2 inline assets, got %+v", rec.Assets)
	}
	if rec.Assets[0].Role != database.AssetRoleLead || rec.Assets[0].SourceURL != "https://example.com/img/a.png" {
		t.Errorf("Expected lead from resolved source, got %+v", rec.Assets[0])
	}
	if rec.Assets[2].SourceURL != "https://example.com/news/b.png" {
		t.Errorf("Expected second source resolved against the link, got %+v", rec.Assets[2])
	}
	if !strings.Contains(rec.Blocks[0].ImagesJSON, "https://example.com/img/a.png") {
		t.Errorf("Expected stored block to carry the absolute source, got %s", rec.Blocks[0].ImagesJSON)
	}
	if h.fetcher.calls["/img/a.png"] != 0 {
		t.Error("Expected relative source not to be fetched as is")
	}
}

func TestImporterSkipsUnresolvableImages(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{{
		"id":      "1",
		"title":   "No link",
		"content": `<p>Text</p><div><img src="/etc/passwd"></div>`,
	}}}
	h := newHarness(t, reader)

	stats, err := h.importer.Run(context.Background(), NewRunContext(testConfig(), "admin"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if stats.Imported != 1 {
		t.Fatalf("Expected item to be imported, got %+v", stats)
	}

	list, _ := h.records.ListRecords(database.RecordFilter{})
	rec, _ := h.records.GetRecord(list[0].ID)
	if len(rec.Assets) != 0 {
		t.Errorf("Expected no assets for a local path, got %+v", rec.Assets)
	}
	if len(h.fetcher.calls) != 0 {
		t.Errorf("Expected no fetches, got %v", h.fetcher.calls)
	}
}

func TestWrapPlainText(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"lines become paragraphs", "First\n\n Second ", "<p>First</p><p>Second</p>"},
		{"comparison is not markup", "a < b\nc > d", "<p>a &lt; b</p><p>c &gt; d</p>"},
		{"markup is kept", "<p>Already</p>", "<p>Already</p>"},
		{"closing tag counts as markup", "text</p>", "text</p>"},
		{"comment counts as markup", "<!-- x -->", "<!-- x -->"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wrapPlainText(tt.body); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestImporterLocalizedVariant(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{{
		"id":      "1",
		"title":   "Hello",
		"tags":    "News, NEWS",
		"content": `<p>Body</p><div><img src="https://cdn.example.com/x.png"></div>`,
	}}}
	h := newHarness(t, reader)
	h.fetcher.data["https://cdn.example.com/x.png"] = pngBytes

	cfg := testConfig()
	cfg.Target.Language = "de"

	stats, err := h.importer.Run(context.Background(), NewRunContext(cfg, "admin"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if stats.Records != 2 {
		t.Fatalf("Expected 2 records, got %+v", stats)
	}

	key := ImportKey(feed.Fields{"id": "1"})

	primary, _ := h.records.FindByImportKey("news_import_xml", key)
	variant, _ := h.records.FindByImportKey("news_import_xml", key+"_de")
	if primary == nil || variant == nil {
		t.Fatalf("Expected primary and variant, got %v and %v", primary, variant)
	}

	if primary.Title != "Hello [translate to de]" || variant.Title != "Hello" {
		t.Errorf("Expected marker only on primary title, got %q and %q", primary.Title, variant.Title)
	}
	if variant.Language != "de" || variant.ParentKey != key || variant.ParentID == nil || *variant.ParentID != primary.ID {
		t.Errorf("Expected variant linked to primary, got %+v", variant)
	}

	fullPrimary, _ := h.records.GetRecord(primary.ID)
	if len(fullPrimary.Blocks) != 0 || len(fullPrimary.Assets) != 0 {
		t.Errorf("Expected metadata-only primary, got %d blocks and %d assets", len(fullPrimary.Blocks), len(fullPrimary.Assets))
	}

	fullVariant, _ := h.records.GetRecord(variant.ID)
	if len(fullVariant.Blocks) != 1 || fullVariant.Blocks[0].Language != "de" {
		t.Errorf("Expected variant to own blocks in de, got %+v", fullVariant.Blocks)
	}
	if len(fullVariant.Assets) == 0 {
		t.Error("Expected variant to own assets")
	}
	if len(fullVariant.Tags) != 2 || fullVariant.Tags[0] != fullVariant.Tags[1] {
		t.Errorf("Expected one localized tag twice, got %v", fullVariant.Tags)
	}

	if count, _ := h.taxonomy.CountTaxonomy(database.KindTag); count != 2 {
		t.Errorf("Expected base and localized tag rows, got %d", count)
	}
}

func TestImporterRecordOptions(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{
		{"id": "1", "title": "Draft", "status": "draft", "link": "https://example.com/1"},
		{"id": "2", "title": "", "status": "PUBLISH", "link": "https://example.com/2"},
	}}
	h := newHarness(t, reader)

	cfg := testConfig()
	cfg.Settings.PersistAsExternalURL = true

	if _, err := h.importer.Run(context.Background(), NewRunContext(cfg, "admin")); err != nil {
		t.Fatal(err)
	}

	draft, _ := h.records.FindByImportKey("news_import_xml", ImportKey(feed.Fields{"id": "1"}))
	if draft == nil || !draft.Hidden {
		t.Errorf("Expected draft to be hidden, got %+v", draft)
	}
	if draft.Type != database.RecordTypeExternal || draft.ExternalURL != "https://example.com/1" {
		t.Errorf("Expected external record, got %+v", draft)
	}

	untitled, _ := h.records.FindByImportKey("news_import_xml", ImportKey(feed.Fields{"id": "2"}))
	if untitled == nil || untitled.Hidden {
		t.Errorf("Expected published record to be visible, got %+v", untitled)
	}
	if !strings.HasPrefix(untitled.Title, "Untitled ") {
		t.Errorf("Expected placeholder title, got %q", untitled.Title)
	}
}

func TestImporterFiltersAndUnmappedCategories(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{
		{"id": "1", "title": "Sponsored post", "categories": "Sport"},
		{"id": "2", "title": "Match report", "categories": "Sport, Weather"},
	}}
	h := newHarness(t, reader)

	cfg := testConfig()
	cfg.Settings.AutoCreateTaxonomy = false
	cfg.CategoryMapping = map[string]string{"sport": "77"}
	cfg.Filters = []source.ConfigFilter{{Field: "title", Excludes: []string{"sponsored"}}}

	stats, err := h.importer.Run(context.Background(), NewRunContext(cfg, "admin"))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Filtered != 1 || stats.Imported != 1 {
		t.Errorf("Expected 1 filtered and 1 imported, got %+v", stats)
	}

	rec, _ := h.records.FindByImportKey("news_import_xml", ImportKey(feed.Fields{"id": "2"}))
	full, _ := h.records.GetRecord(rec.ID)
	if len(full.Categories) != 1 || full.Categories[0] != "77" {
		t.Errorf("Expected only the mapped category, got %v", full.Categories)
	}
	if count, _ := h.taxonomy.CountTaxonomy(database.KindCategory); count != 0 {
		t.Errorf("Expected no created categories, got %d", count)
	}
}

func TestImporterEnclosureAndExtraction(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{{
		"id":             "1",
		"title":          "Empty body",
		"link":           "https://example.com/article",
		"enclosure.url":  "https://cdn.example.com/cover",
		"enclosure.type": "image/png",
	}}}
	h := newHarness(t, reader)
	h.fetcher.data["https://cdn.example.com/cover"] = pngBytes
	h.extractor.body = "<p>Extracted text</p>"

	cfg := testConfig()
	cfg.Settings.ExtractContent = true

	if _, err := h.importer.Run(context.Background(), NewRunContext(cfg, "admin")); err != nil {
		t.Fatal(err)
	}

	rec, _ := h.records.FindByImportKey("news_import_xml", ImportKey(feed.Fields{"id": "1"}))
	full, _ := h.records.GetRecord(rec.ID)

	if full.Teaser != "Extracted text" {
		t.Errorf("Expected teaser from extracted content, got %q", full.Teaser)
	}
	if len(full.Assets) != 1 || full.Assets[0].Role != database.AssetRoleLead {
		t.Fatalf("Expected enclosure as lead asset, got %+v", full.Assets)
	}
	if !strings.HasPrefix(full.Assets[0].Path, "uploads/1_") || !strings.HasSuffix(full.Assets[0].Path, ".png") {
		t.Errorf("Unexpected enclosure path %s", full.Assets[0].Path)
	}
}

func TestImporterCleanBeforeImport(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{{"id": "1", "title": "Only"}}}
	h := newHarness(t, reader)

	cfg := testConfig()
	cfg.Settings.CleanBeforeImport = true

	for run := 0; run < 2; run++ {
		stats, err := h.importer.Run(context.Background(), NewRunContext(cfg, "admin"))
		if err != nil {
			t.Fatal(err)
		}
		if stats.Imported != 1 {
			t.Errorf("Run %d: expected reimport after cleaning, got %+v", run, stats)
		}
	}

	if count, _ := h.records.CountRecords(""); count != 1 {
		t.Errorf("Expected 1 record, got %d", count)
	}
}

func TestImporterCSVFieldCountAbortsBatch(t *testing.T) {
	h := newHarness(t, &sliceReader{})
	h.fetcher.data["export.csv"] = []byte("title,link\nFirst,https://example.com/1\nBroken\n")

	cfg := testConfig()
	cfg.Format = source.FormatCSV
	cfg.Path = "export.csv"

	_, err := h.importer.Run(context.Background(), NewRunContext(cfg, "admin"))
	if !errors.Is(err, feed.ErrFieldCount) {
		t.Fatalf("Expected ErrFieldCount, got %v", err)
	}

	if count, _ := h.records.CountRecords(""); count != 0 {
		t.Errorf("Expected no records after structural error, got %d", count)
	}
}

func TestImporterReaderError(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{{"id": "1", "title": "Kept"}}, err: errors.New("connection reset")}
	h := newHarness(t, reader)

	stats, err := h.importer.Run(context.Background(), NewRunContext(testConfig(), "admin"))
	if err == nil {
		t.Fatal("Expected reader error")
	}
	if stats.Imported != 1 {
		t.Errorf("Expected item before the error to be imported, got %+v", stats)
	}
}

func TestImporterCancelledRun(t *testing.T) {
	reader := &sliceReader{items: []feed.RawItem{{"id": "1", "title": "Never"}}}
	h := newHarness(t, reader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.importer.Run(ctx, NewRunContext(testConfig(), "admin")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if count, _ := h.records.CountRecords(""); count != 0 {
		t.Errorf("Expected no records, got %d", count)
	}
}

func TestImporterUnknownFormat(t *testing.T) {
	h := newHarness(t, &sliceReader{})
	cfg := testConfig()
	cfg.Format = "json"

	if _, err := h.importer.Run(context.Background(), NewRunContext(cfg, "admin")); err == nil {
		t.Error("Expected error for unknown format")
	}
}
