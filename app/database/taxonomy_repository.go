package database

import (
	"database/sql"
	"fmt"
	"time"
)

type TaxonomyRepo struct {
	db *DB
}

func NewTaxonomyRepository(db *DB) *TaxonomyRepo {
	return &TaxonomyRepo{db: db}
}

var taxonomyTables = map[string]string{
	KindCategory: "categories",
	KindTag:      "tags",
}

func tableFor(kind string) (string, error) {
	table, ok := taxonomyTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown taxonomy kind: %s", kind)
	}
	return table, nil
}

func (r *TaxonomyRepo) FindCategoryByTitle(titleKey string) (*TaxonomyEntry, error) {
	return r.findByTitle(KindCategory, titleKey)
}

func (r *TaxonomyRepo) CreateCategory(title, titleKey, containerID string) (*TaxonomyEntry, error) {
	return r.create(KindCategory, title, titleKey, containerID, "", nil)
}

func (r *TaxonomyRepo) FindTagByTitle(titleKey string) (*TaxonomyEntry, error) {
	return r.findByTitle(KindTag, titleKey)
}

func (r *TaxonomyRepo) CreateTag(title, titleKey, containerID string) (*TaxonomyEntry, error) {
	return r.create(KindTag, title, titleKey, containerID, "", nil)
}

func (r *TaxonomyRepo) FindLocalized(kind string, parentID int64, language string) (*TaxonomyEntry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRow(`SELECT id, title, title_key, container_id, language, parent_id, created_at
		FROM `+table+` WHERE parent_id = ? AND language = ?`, parentID, language)

	return r.scan(kind, row)
}

// CreateLocalized copies parent into language. The copy keeps the display
// title and container of its parent.
func (r *TaxonomyRepo) CreateLocalized(kind string, parent *TaxonomyEntry, language string) (*TaxonomyEntry, error) {
	if parent == nil {
		return nil, fmt.Errorf("localized %s needs a parent entry", kind)
	}
	return r.create(kind, parent.Title, parent.TitleKey, parent.ContainerID, language, &parent.ID)
}

func (r *TaxonomyRepo) CountTaxonomy(kind string) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s entries: %w", kind, err)
	}
	return count, nil
}

func (r *TaxonomyRepo) findByTitle(kind, titleKey string) (*TaxonomyEntry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRow(`SELECT id, title, title_key, container_id, language, parent_id, created_at
		FROM `+table+` WHERE title_key = ? AND language = ''`, titleKey)

	return r.scan(kind, row)
}

func (r *TaxonomyRepo) create(kind, title, titleKey, containerID, language string, parentID *int64) (*TaxonomyEntry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := r.db.Exec(`INSERT INTO `+table+` (title, title_key, container_id, language, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, title, titleKey, containerID, language, parentID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s %q: %w", kind, title, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s id: %w", kind, err)
	}

	return &TaxonomyEntry{
		ID:          id,
		Kind:        kind,
		Title:       title,
		TitleKey:    titleKey,
		ContainerID: containerID,
		Language:    language,
		ParentID:    parentID,
		CreatedAt:   now,
	}, nil
}

func (r *TaxonomyRepo) scan(kind string, row *sql.Row) (*TaxonomyEntry, error) {
	entry := TaxonomyEntry{Kind: kind}
	var parentID sql.NullInt64

	err := row.Scan(&entry.ID, &entry.Title, &entry.TitleKey, &entry.ContainerID, &entry.Language, &parentID, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}

	if parentID.Valid {
		entry.ParentID = &parentID.Int64
	}

	return &entry, nil
}
