package source

import "time"

type Format string

const (
	FormatXML Format = "xml"
	FormatCSV Format = "csv"
)

type AssetKey string

const (
	// AssetKeyBasename dedups assets on the file name of the source URL.
	AssetKeyBasename AssetKey = "basename"
	// AssetKeyURLHash dedups assets on a hash of the full source URL.
	AssetKeyURLHash AssetKey = "url_hash"
)

type Config struct {
	Name     string         // Derived from filename (without .yml extension)
	Path     string         `yaml:"path"`
	Format   Format         `yaml:"format"`
	Target   ConfigTarget   `yaml:"target"`
	Settings ConfigSettings `yaml:"settings"`
	Fields   FieldMapping   `yaml:"fields"`
	Filters  []ConfigFilter `yaml:"filters"`

	// Label -> identifier overrides, consulted before the taxonomy resolver.
	CategoryMapping map[string]string `yaml:"category_mapping"`
}

type ConfigTarget struct {
	ContainerID         string `yaml:"container_id"`
	CategoryContainerID string `yaml:"category_container_id"`
	TagContainerID      string `yaml:"tag_container_id"`
	Language            string `yaml:"language"` // empty = no localized variant
}

type ConfigSettings struct {
	Enabled              bool     `yaml:"enabled"`
	RefreshInterval      int      `yaml:"refresh_interval"` // seconds
	Timeout              int      `yaml:"timeout"`          // seconds
	PersistAsExternalURL bool     `yaml:"persist_as_external_url"`
	CleanBeforeImport    bool     `yaml:"clean_before_import"`
	ExtractContent       bool     `yaml:"extract_content"`
	AutoCreateTaxonomy   bool     `yaml:"auto_create_taxonomy"`
	AssetKey             AssetKey `yaml:"asset_key"`
}

// FieldMapping configures how raw record keys map onto canonical fields.
// Numeric segments of a raw key are replaced by "*" before lookup, so the
// pattern "category.*" matches "category.0", "category.12", ...
type FieldMapping struct {
	Aliases         map[string]string `yaml:"aliases"`
	TaxonomyCarrier string            `yaml:"taxonomy_carrier"`
	DomainSuffix    string            `yaml:"domain_suffix"`
	Defaults        map[string]string `yaml:"defaults"`
}

// ConfigFilter matches canonical field values case-insensitively.
type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

func (s ConfigSettings) GetRefreshInterval() time.Duration {
	if s.RefreshInterval <= 0 {
		return 3600 * time.Second
	}
	return time.Duration(s.RefreshInterval) * time.Second
}

func (s ConfigSettings) GetTimeout() time.Duration {
	if s.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.Timeout) * time.Second
}

// ImportSource identifies the reader that produced a record. Import keys
// are unique per import source.
func (c *Config) ImportSource() string {
	return "news_import_" + string(c.Format)
}
