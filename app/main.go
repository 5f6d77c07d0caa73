package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/news-import/app/api"
	"github.com/lysyi3m/news-import/app/asset"
	"github.com/lysyi3m/news-import/app/cfg"
	"github.com/lysyi3m/news-import/app/database"
	"github.com/lysyi3m/news-import/app/export"
	"github.com/lysyi3m/news-import/app/feed"
	"github.com/lysyi3m/news-import/app/fetcher"
	"github.com/lysyi3m/news-import/app/importer"
	"github.com/lysyi3m/news-import/app/source"
	"github.com/lysyi3m/news-import/app/tasks"
	"github.com/lysyi3m/news-import/app/taxonomy"
)

const schedulerUser = "scheduler"

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	setupLogger(appCfg.Debug)

	if err := run(appCfg); err != nil {
		slog.Error("News Import stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting News Import", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	recordRepo := database.NewRecordRepository(db)
	sourceRepo := database.NewSourceRepository(db)
	taxonomyRepo := database.NewTaxonomyRepository(db)

	configCache := source.NewConfigCache(appCfg.SourcesDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load source configurations: %w", err)
	}
	slog.Info("Source configurations loaded", "dir", appCfg.SourcesDir, "count", configCache.GetConfigCount())

	storage, err := asset.NewFileStorage(appCfg.StorageDir)
	if err != nil {
		return fmt.Errorf("failed to prepare asset storage: %w", err)
	}

	httpFetcher := fetcher.NewHTTPFetcher(nil, appCfg.UserAgent, appCfg.FetchTimeout)

	readers := map[source.Format]feed.Reader{
		source.FormatXML: feed.NewXMLReader(httpFetcher),
		source.FormatCSV: feed.NewCSVReader(httpFetcher),
	}

	imp := importer.NewImporter(
		readers,
		recordRepo,
		taxonomy.NewResolver(taxonomyRepo),
		asset.NewMaterializer(httpFetcher, storage, appCfg.FetchTimeout),
		feed.NewContentExtractor(httpFetcher),
		appCfg.AssetConcurrency,
		time.Local,
	)

	scheduler := tasks.NewScheduler(configCache, sourceRepo, imp, schedulerUser,
		time.Duration(appCfg.SchedulerInterval)*time.Second, appCfg.WorkerCount)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if appCfg.Once {
		slog.Info("Running every enabled source once")
		return scheduler.RunOnce(ctx)
	}

	watcher := source.NewWatcher(configCache, scheduler.SourceChanged)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			slog.Warn("Source watcher stopped", "error", err)
		}
	}()

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount)
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(configCache, recordRepo, sourceRepo, taxonomyRepo, scheduler,
		export.NewGenerator(appCfg.BaseURL+"/assets"), appCfg.BaseURL, appCfg.Version)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey, storage.Root()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port, "base_url", appCfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case serverErr = <-serverErrChan:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return serverErr
}
