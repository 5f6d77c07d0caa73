package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath     string
	StorageDir string

	// Application configuration
	SourcesDir        string
	Port              string
	BaseURL           string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string
	Once              bool

	// Fetching
	UserAgent        string
	FetchTimeout     time.Duration
	AssetConcurrency int

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
