package cfg

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath     string `long:"db-path" env:"DB_PATH" default:"./data/news-import.db" description:"Path to the sqlite database file"`
	StorageDir string `long:"storage-dir" env:"STORAGE_DIR" default:"./data/assets" description:"Root directory for materialized assets"`

	// Application configuration
	SourcesDir        string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing import source configuration files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseURL           string `long:"base-url" env:"BASE_URL" description:"Public base URL used in feed and asset links (default http://localhost:<port>)"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers for import runs"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Scheduler interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	Once              bool   `long:"once" env:"ONCE" description:"Run every enabled source once and exit"`

	// Fetching
	UserAgent        string `long:"user-agent" env:"USER_AGENT" default:"News Import/1.0" description:"User agent string for HTTP requests"`
	FetchTimeout     int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"20" description:"Timeout for a single remote fetch in seconds"`
	AssetConcurrency int    `long:"asset-concurrency" env:"ASSET_CONCURRENCY" default:"4" description:"Parallel asset fetches per item"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Europe/Berlin)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return load(nil)
}

func load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.WorkerCount <= 0 {
		return nil, fmt.Errorf("worker count must be positive")
	}
	if raw.AssetConcurrency <= 0 {
		raw.AssetConcurrency = 1
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		StorageDir:        raw.StorageDir,
		SourcesDir:        raw.SourcesDir,
		Port:              raw.Port,
		BaseURL:           strings.TrimSuffix(cmp.Or(raw.BaseURL, "http://localhost:"+raw.Port), "/"),
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		APIAccessKey:      raw.APIAccessKey,
		Once:              raw.Once,
		UserAgent:         raw.UserAgent,
		FetchTimeout:      time.Duration(raw.FetchTimeout) * time.Second,
		AssetConcurrency:  raw.AssetConcurrency,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
