package database

import (
	"time"
)

const (
	RecordTypeNews     = "news"
	RecordTypeExternal = "external"
)

const (
	AssetRoleLead      = "lead"
	AssetRoleInline    = "inline"
	AssetRoleEnclosure = "enclosure"
)

const (
	KindCategory = "category"
	KindTag      = "tag"
)

type ImportRecord struct {
	ID           int64
	ImportSource string // reader that produced the record
	ImportKey    string // unique per ImportSource
	SourceName   string // configuration name
	ContainerID  string
	RunID        string
	Type         string
	Title        string
	Teaser       string
	Author       string
	AuthorEmail  string
	Link         string
	ExternalURL  string
	PublishedAt  *time.Time
	Hidden       bool
	Language     string // empty for primary records
	ParentKey    string // import key of the primary record for variants
	ParentID     *int64
	ImportData   string // JSON
	CreatedBy    string
	CreatedAt    time.Time

	Blocks     []ContentBlock
	Assets     []RecordAsset
	Categories []string
	Tags       []string
}

type ContentBlock struct {
	ID         int64
	Position   int
	Language   string
	GroupClass string
	TextJSON   string
	ImagesJSON string
}

type RecordAsset struct {
	ID            int64
	Role          string
	BlockPosition int // -1 when not tied to a block
	Path          string
	Hash          string
	MimeType      string
	Size          int64
	SourceURL     string
	Alt           string
	Title         string
	Link          string
}

type TaxonomyEntry struct {
	ID          int64
	Kind        string
	Title       string // display title, original case
	TitleKey    string // folded lookup key
	ContainerID string
	Language    string
	ParentID    *int64 // base entry for localized copies
	CreatedAt   time.Time
}

type Source struct {
	Name         string
	Path         string
	Format       string
	Enabled      bool
	LastRunAt    *time.Time
	NextRunAt    *time.Time
	LastStatus   string
	LastError    string
	LastImported int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RecordFilter struct {
	SourceName string
	Language   *string
	Limit      int
	Offset     int
}
