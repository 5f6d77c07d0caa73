package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	ItemsProcessed    int64
	RecordsImported   int64
	ItemsSkipped      int64
	AssetsFetched     int64
	AssetsReused      int64
	AssetsFailed      int64
	TaxonomyCreated   int64
	TaxonomyUnmapped  int64
	RunsCompleted     int64
	RunsFailed        int64
	BytesMaterialized int64

	// Timings
	LastRunDuration    time.Duration
	AverageRunDuration time.Duration
	TotalRunDuration   time.Duration

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = New()

func New() *Metrics {
	return &Metrics{IsHealthy: true}
}

func (m *Metrics) add(counter *int64, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*counter += n
}

func (m *Metrics) IncrementItemsProcessed()   { m.add(&m.ItemsProcessed, 1) }
func (m *Metrics) AddRecordsImported(n int)   { m.add(&m.RecordsImported, int64(n)) }
func (m *Metrics) IncrementItemsSkipped()     { m.add(&m.ItemsSkipped, 1) }
func (m *Metrics) IncrementAssetsReused()     { m.add(&m.AssetsReused, 1) }
func (m *Metrics) IncrementAssetsFailed()     { m.add(&m.AssetsFailed, 1) }
func (m *Metrics) IncrementTaxonomyCreated()  { m.add(&m.TaxonomyCreated, 1) }
func (m *Metrics) IncrementTaxonomyUnmapped() { m.add(&m.TaxonomyUnmapped, 1) }

func (m *Metrics) RecordAssetFetched(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AssetsFetched++
	m.BytesMaterialized += size
}

func (m *Metrics) RecordRun(duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastRunTime = time.Now()
	m.LastRunDuration = duration
	m.TotalRunDuration += duration

	if err != nil {
		m.RunsFailed++
		m.LastError = err.Error()
		m.LastErrorTime = m.LastRunTime
		m.IsHealthy = false
	} else {
		m.RunsCompleted++
		m.IsHealthy = true
	}

	if runs := m.RunsCompleted + m.RunsFailed; runs > 0 {
		m.AverageRunDuration = m.TotalRunDuration / time.Duration(runs)
	}
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]interface{}{
		"items_processed":         m.ItemsProcessed,
		"records_imported":        m.RecordsImported,
		"items_skipped":           m.ItemsSkipped,
		"assets_fetched":          m.AssetsFetched,
		"assets_reused":           m.AssetsReused,
		"assets_failed":           m.AssetsFailed,
		"bytes_materialized":      m.BytesMaterialized,
		"taxonomy_created":        m.TaxonomyCreated,
		"taxonomy_unmapped":       m.TaxonomyUnmapped,
		"runs_completed":          m.RunsCompleted,
		"runs_failed":             m.RunsFailed,
		"last_run_duration_ms":    m.LastRunDuration.Milliseconds(),
		"average_run_duration_ms": m.AverageRunDuration.Milliseconds(),
		"last_error":              m.LastError,
		"is_healthy":              m.IsHealthy,
	}
	if !m.LastRunTime.IsZero() {
		stats["last_run_time"] = m.LastRunTime.Format(time.RFC3339)
	}
	if !m.LastErrorTime.IsZero() {
		stats["last_error_time"] = m.LastErrorTime.Format(time.RFC3339)
	}
	return stats
}
