package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/news-import/app/database"
	"github.com/lysyi3m/news-import/app/export"
	"github.com/lysyi3m/news-import/app/metrics"
	"github.com/lysyi3m/news-import/app/source"
	"github.com/lysyi3m/news-import/app/tasks"
)

const maxPageSize = 200

func NewHandler(configCache *source.ConfigCache, recordRepo database.RecordRepository,
	sourceRepo database.SourceRepository, taxonomyRepo database.TaxonomyRepository,
	scheduler tasks.TaskSchedulerInterface, generator GeneratorInterface, baseURL, version string) *Handler {
	return &Handler{
		recordRepo:   recordRepo,
		sourceRepo:   sourceRepo,
		taxonomyRepo: taxonomyRepo,
		generator:    generator,
		configCache:  configCache,
		scheduler:    scheduler,
		baseURL:      baseURL,
		version:      version,
	}
}

// GetFeed serves the visible records of a source as RSS. Sources with a
// target language expose their localized variants.
func (h *Handler) GetFeed(c *gin.Context) {
	name := c.Param("name")

	sourceConfig, err := h.configCache.GetConfig(name)
	if err != nil {
		slog.Error("Source configuration not found", "source", name, "error", err)
		c.Status(http.StatusNotFound)
		return
	}

	language := sourceConfig.Target.Language
	records, err := h.recordRepo.ListRecords(database.RecordFilter{
		SourceName: name,
		Language:   &language,
		Limit:      queryInt(c, "limit", 50),
	})
	if err != nil {
		slog.Error("Database error", "operation", "list_records", "source", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	visible := make([]database.ImportRecord, 0, len(records))
	for _, rec := range records {
		if rec.Hidden {
			continue
		}
		full, err := h.recordRepo.GetRecord(rec.ID)
		if err != nil {
			slog.Error("Database error", "operation", "get_record", "source", name, "id", rec.ID, "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		if full != nil {
			visible = append(visible, *full)
		}
	}

	rss, err := h.generator.Run(export.Channel{
		Name:     name,
		Title:    name,
		Link:     sourceConfig.Path,
		SelfLink: h.baseURL + "/feeds/" + name,
		Language: language,
		Version:  h.version,
	}, visible)
	if err != nil {
		slog.Error("RSS generation error", "source", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(visible)))
	c.Header("X-Feed-Name", name)

	c.String(http.StatusOK, rss)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp":             time.Now().In(time.Local).Format(time.RFC3339),
		"loaded_configurations": h.configCache.GetConfigCount(),
		"healthy":               metrics.Global.GetStats()["is_healthy"],
	}

	if count, err := h.recordRepo.CountRecords(""); err == nil {
		health["records"] = count
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := metrics.Global.GetStats()

	taxonomy := map[string]interface{}{}
	for _, kind := range []string{database.KindCategory, database.KindTag} {
		if count, err := h.taxonomyRepo.CountTaxonomy(kind); err == nil {
			taxonomy[kind] = count
		}
	}
	stats["taxonomy"] = taxonomy

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) APIListSources(c *gin.Context) {
	configs := h.configCache.GetConfigs()

	sources := make([]map[string]interface{}, 0, len(configs))

	for _, sourceConfig := range configs {
		sourceInfo := map[string]interface{}{
			"name":             sourceConfig.Name,
			"path":             sourceConfig.Path,
			"format":           sourceConfig.Format,
			"enabled":          sourceConfig.Settings.Enabled,
			"language":         sourceConfig.Target.Language,
			"refresh_interval": sourceConfig.Settings.GetRefreshInterval().String(),
			"filters":          len(sourceConfig.Filters),
		}

		if src, err := h.sourceRepo.GetSource(sourceConfig.Name); err == nil && src != nil {
			sourceInfo["last_run_at"] = src.LastRunAt
			sourceInfo["next_run_at"] = src.NextRunAt
			sourceInfo["last_status"] = src.LastStatus
			sourceInfo["last_error"] = src.LastError
			sourceInfo["last_imported"] = src.LastImported
		}

		if count, err := h.recordRepo.CountRecords(sourceConfig.Name); err == nil {
			sourceInfo["record_count"] = count
		}

		sources = append(sources, sourceInfo)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"sources": sources,
		"total":   len(sources),
	})
}

func (h *Handler) APITriggerImport(c *gin.Context) {
	name := c.Param("name")

	err := h.scheduler.TriggerImport(name)
	if errors.Is(err, tasks.ErrSourceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source configuration not found"})
		return
	}
	if err != nil {
		slog.Error("Error enqueueing import task", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue import task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Import task enqueued",
		"source":  name,
	})
}

func (h *Handler) APIListRecords(c *gin.Context) {
	filter := database.RecordFilter{
		SourceName: c.Query("source"),
		Limit:      queryInt(c, "limit", 50),
		Offset:     queryInt(c, "offset", 0),
	}
	if lang, ok := c.GetQuery("lang"); ok {
		filter.Language = &lang
	}

	records, err := h.recordRepo.ListRecords(filter)
	if err != nil {
		slog.Error("Database error", "operation", "list_records", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	items := make([]gin.H, 0, len(records))
	for _, rec := range records {
		items = append(items, recordSummary(rec))
	}

	c.JSON(http.StatusOK, gin.H{
		"records": items,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (h *Handler) APIGetRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid record id"})
		return
	}

	rec, err := h.recordRepo.GetRecord(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_record", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}

	blocks, err := export.DecodeBlocks(rec.Blocks)
	if err != nil {
		slog.Error("Stored blocks are invalid", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid stored content"})
		return
	}

	details := recordSummary(*rec)
	details["teaser"] = rec.Teaser
	details["author"] = rec.Author
	details["blocks"] = blocks
	details["categories"] = rec.Categories
	details["tags"] = rec.Tags

	assets := make([]gin.H, 0, len(rec.Assets))
	for _, a := range rec.Assets {
		assets = append(assets, gin.H{
			"role":       a.Role,
			"block":      a.BlockPosition,
			"path":       a.Path,
			"url":        h.baseURL + "/assets/" + a.Path,
			"mime_type":  a.MimeType,
			"size":       a.Size,
			"source_url": a.SourceURL,
		})
	}
	details["assets"] = assets

	c.JSON(http.StatusOK, details)
}

func recordSummary(rec database.ImportRecord) gin.H {
	return gin.H{
		"id":           rec.ID,
		"import_key":   rec.ImportKey,
		"source":       rec.SourceName,
		"type":         rec.Type,
		"title":        rec.Title,
		"link":         rec.Link,
		"external_url": rec.ExternalURL,
		"language":     rec.Language,
		"parent_id":    rec.ParentID,
		"hidden":       rec.Hidden,
		"published_at": rec.PublishedAt,
		"created_at":   rec.CreatedAt,
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil || value < 0 {
		return fallback
	}
	return min(value, maxPageSize)
}
