package feed

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/lysyi3m/news-import/app/source"
)

// RawItem is one source row or entry, keyed by format-specific field names.
type RawItem map[string]string

// Fields holds canonical field values. Missing fields read as "".
type Fields map[string]string

func (f Fields) Get(name string) string {
	return f[name]
}

func (f Fields) Has(name string) bool {
	v, ok := f[name]
	return ok && v != ""
}

// Canonical field names.
const (
	FieldID            = "id"
	FieldGUID          = "guid"
	FieldTitle         = "title"
	FieldContent       = "content"
	FieldDescription   = "description"
	FieldAuthor        = "author"
	FieldAuthorEmail   = "authorEmail"
	FieldLink          = "link"
	FieldPublishDate   = "publishDate"
	FieldStatus        = "status"
	FieldCategories    = "categories"
	FieldTags          = "tags"
	FieldEnclosureURL  = "enclosure.url"
	FieldEnclosureType = "enclosure.type"
)

var canonicalFields = []string{
	FieldID, FieldGUID, FieldTitle, FieldContent, FieldDescription,
	FieldAuthor, FieldAuthorEmail, FieldLink, FieldPublishDate, FieldStatus,
	FieldCategories, FieldTags, FieldEnclosureURL, FieldEnclosureType,
}

// DefaultDomainSuffix marks the key carrying a category's domain attribute.
const DefaultDomainSuffix = "@domain"

// Reader yields the raw items of the source at cfg.Path in source order.
// A structural error ends the sequence.
type Reader interface {
	Read(ctx context.Context, cfg *source.Config) iter.Seq2[RawItem, error]
}

var ErrFieldCount = errors.New("field count mismatch")

// FieldCountError reports a row whose column count differs from the header.
type FieldCountError struct {
	Row      int
	Expected int
	Got      int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("row %d: expected %d fields, got %d", e.Row, e.Expected, e.Got)
}

func (e *FieldCountError) Unwrap() error {
	return ErrFieldCount
}
