// Package taxonomy resolves free-text category and tag labels to stable
// identifiers, creating entries on first sight.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/lysyi3m/news-import/app/database"
	"github.com/lysyi3m/news-import/app/keylock"
	"github.com/lysyi3m/news-import/app/metrics"
)

// ErrUnmapped is returned for a label that has no static mapping while
// automatic creation is disabled.
var ErrUnmapped = errors.New("taxonomy label is not mapped")

// Target describes where resolved entries live.
type Target struct {
	ContainerID string
	Language    string            // localized counterparts are returned when set
	Mapping     map[string]string // static label -> id overrides
	AutoCreate  bool
}

type kindOps struct {
	find   func(titleKey string) (*database.TaxonomyEntry, error)
	create func(title, titleKey, containerID string) (*database.TaxonomyEntry, error)
}

type Resolver struct {
	repo  database.TaxonomyRepository
	locks *keylock.Locker
	kinds map[string]kindOps
}

func NewResolver(repo database.TaxonomyRepository) *Resolver {
	return &Resolver{
		repo:  repo,
		locks: keylock.New(),
		kinds: map[string]kindOps{
			database.KindCategory: {find: repo.FindCategoryByTitle, create: repo.CreateCategory},
			database.KindTag:      {find: repo.FindTagByTitle, create: repo.CreateTag},
		},
	}
}

var decoration = strings.NewReplacer("[", "", "]", "", `"`, "", "'", "")

// SplitLabels strips bracket and quote decoration and splits raw on commas.
func SplitLabels(raw string) []string {
	var labels []string
	for _, part := range strings.Split(decoration.Replace(raw), ",") {
		if label := strings.TrimSpace(part); label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}

// Key returns the lookup key of a label. Labels that differ only by case
// share a key.
func Key(label string) string {
	return norm.NFC.String(cases.Fold().String(strings.TrimSpace(label)))
}

// Resolve returns one identifier per label of raw, in label order.
// Unmapped labels are logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, kind, raw string, target Target) ([]string, error) {
	labels := SplitLabels(raw)
	if len(labels) == 0 {
		return nil, nil
	}

	mapping := foldMapping(target.Mapping)

	ids := make([]string, 0, len(labels))
	for _, label := range labels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, err := r.resolveLabel(kind, label, mapping, target)
		if errors.Is(err, ErrUnmapped) {
			slog.Warn("Taxonomy label skipped", "kind", kind, "label", label)
			metrics.Global.IncrementTaxonomyUnmapped()
			continue
		}
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func (r *Resolver) resolveLabel(kind, label string, mapping map[string]string, target Target) (string, error) {
	key := Key(label)

	if id, ok := mapping[key]; ok {
		return id, nil
	}
	if !target.AutoCreate {
		return "", fmt.Errorf("%w: %s %q", ErrUnmapped, kind, label)
	}

	entry, err := r.findOrCreate(kind, label, key, target.ContainerID)
	if err != nil {
		return "", err
	}

	if target.Language != "" {
		entry, err = r.localize(kind, entry, target.Language)
		if err != nil {
			return "", err
		}
	}

	return strconv.FormatInt(entry.ID, 10), nil
}

func (r *Resolver) findOrCreate(kind, title, key, containerID string) (*database.TaxonomyEntry, error) {
	ops, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown taxonomy kind: %s", kind)
	}

	unlock := r.locks.Lock(kind + "\x00" + key)
	defer unlock()

	entry, err := ops.find(key)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s %q: %w", kind, title, err)
	}
	if entry != nil {
		return entry, nil
	}

	entry, err = ops.create(title, key, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s %q: %w", kind, title, err)
	}

	slog.Info("Taxonomy entry created", "kind", kind, "title", title, "id", entry.ID)
	metrics.Global.IncrementTaxonomyCreated()

	return entry, nil
}

func (r *Resolver) localize(kind string, base *database.TaxonomyEntry, language string) (*database.TaxonomyEntry, error) {
	unlock := r.locks.Lock(fmt.Sprintf("%s\x00%d\x00%s", kind, base.ID, language))
	defer unlock()

	entry, err := r.repo.FindLocalized(kind, base.ID, language)
	if err != nil {
		return nil, fmt.Errorf("failed to find localized %s: %w", kind, err)
	}
	if entry != nil {
		return entry, nil
	}

	entry, err = r.repo.CreateLocalized(kind, base, language)
	if err != nil {
		return nil, fmt.Errorf("failed to create localized %s: %w", kind, err)
	}

	slog.Debug("Localized taxonomy entry created", "kind", kind, "title", base.Title, "language", language)

	return entry, nil
}

func foldMapping(mapping map[string]string) map[string]string {
	folded := make(map[string]string, len(mapping))
	for label, id := range mapping {
		folded[Key(label)] = id
	}
	return folded
}
