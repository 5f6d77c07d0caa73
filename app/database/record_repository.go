package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type RecordRepo struct {
	db *DB
}

func NewRecordRepository(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

const recordColumns = `id, import_source, import_key, source_name, container_id, run_id,
	record_type, title, teaser, author, author_email, link, external_url,
	published_at, hidden, language, parent_key, parent_id, import_data,
	created_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ImportRecord, error) {
	var rec ImportRecord
	var publishedAt sql.NullTime
	var parentID sql.NullInt64

	err := row.Scan(
		&rec.ID, &rec.ImportSource, &rec.ImportKey, &rec.SourceName, &rec.ContainerID, &rec.RunID,
		&rec.Type, &rec.Title, &rec.Teaser, &rec.Author, &rec.AuthorEmail, &rec.Link, &rec.ExternalURL,
		&publishedAt, &rec.Hidden, &rec.Language, &rec.ParentKey, &parentID, &rec.ImportData,
		&rec.CreatedBy, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if publishedAt.Valid {
		rec.PublishedAt = &publishedAt.Time
	}
	if parentID.Valid {
		rec.ParentID = &parentID.Int64
	}

	return &rec, nil
}

func (r *RecordRepo) FindByImportKey(importSource, importKey string) (*ImportRecord, error) {
	row := r.db.QueryRow(`SELECT `+recordColumns+` FROM import_records
		WHERE import_source = ? AND import_key = ?`, importSource, importKey)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record by import key: %w", err)
	}

	return rec, nil
}

// SaveRecords stores records with their blocks, assets and taxonomy in one
// transaction. A variant whose ParentKey names a record of the same batch
// gets that record's ID as ParentID.
func (r *RecordRepo) SaveRecords(records []*ImportRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, len(records))
	byKey := make(map[string]int64, len(records))

	for i, rec := range records {
		parentID := rec.ParentID
		if parentID == nil && rec.ParentKey != "" {
			if id, ok := byKey[rec.ParentKey]; ok {
				parentID = &id
			}
		}

		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		importData := rec.ImportData
		if importData == "" {
			importData = "{}"
		}
		recordType := rec.Type
		if recordType == "" {
			recordType = RecordTypeNews
		}

		res, err := tx.Exec(`
			INSERT INTO import_records (
				import_source, import_key, source_name, container_id, run_id,
				record_type, title, teaser, author, author_email, link, external_url,
				published_at, hidden, language, parent_key, parent_id, import_data,
				created_by, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ImportSource, rec.ImportKey, rec.SourceName, rec.ContainerID, rec.RunID,
			recordType, rec.Title, rec.Teaser, rec.Author, rec.AuthorEmail, rec.Link, rec.ExternalURL,
			rec.PublishedAt, rec.Hidden, rec.Language, rec.ParentKey, parentID, importData,
			rec.CreatedBy, createdAt)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.ImportKey, err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get record id: %w", err)
		}

		if err := r.insertChildren(tx, id, rec); err != nil {
			return err
		}

		ids[i] = id
		byKey[rec.ImportKey] = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}

	for i, rec := range records {
		rec.ID = ids[i]
		if rec.ParentID == nil && rec.ParentKey != "" {
			if id, ok := byKey[rec.ParentKey]; ok {
				rec.ParentID = &id
			}
		}
	}

	return nil
}

func (r *RecordRepo) insertChildren(tx *sql.Tx, recordID int64, rec *ImportRecord) error {
	for _, block := range rec.Blocks {
		_, err := tx.Exec(`
			INSERT INTO content_blocks (record_id, position, language, group_class, text_json, images_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, recordID, block.Position, block.Language, block.GroupClass, block.TextJSON, block.ImagesJSON)
		if err != nil {
			return fmt.Errorf("failed to insert content block: %w", err)
		}
	}

	for _, asset := range rec.Assets {
		_, err := tx.Exec(`
			INSERT INTO record_assets (
				record_id, role, block_position, path, hash, mime_type, size,
				source_url, alt, title, link
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, recordID, asset.Role, asset.BlockPosition, asset.Path, asset.Hash, asset.MimeType, asset.Size,
			asset.SourceURL, asset.Alt, asset.Title, asset.Link)
		if err != nil {
			return fmt.Errorf("failed to insert record asset: %w", err)
		}
	}

	taxonomy := map[string][]string{KindCategory: rec.Categories, KindTag: rec.Tags}
	for kind, ids := range taxonomy {
		for position, taxonomyID := range ids {
			_, err := tx.Exec(`
				INSERT INTO record_taxonomy (record_id, kind, position, taxonomy_id)
				VALUES (?, ?, ?, ?)
			`, recordID, kind, position, taxonomyID)
			if err != nil {
				return fmt.Errorf("failed to insert record %s: %w", kind, err)
			}
		}
	}

	return nil
}

// DeleteBySource removes previously imported records of a source within a
// container. Blocks, assets and variants go with them.
func (r *RecordRepo) DeleteBySource(importSource, containerID string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM import_records WHERE import_source = ? AND container_id = ?`,
		importSource, containerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted records: %w", err)
	}

	return count, nil
}

func (r *RecordRepo) ListRecords(filter RecordFilter) ([]ImportRecord, error) {
	var conditions []string
	var args []any

	if filter.SourceName != "" {
		conditions = append(conditions, "source_name = ?")
		args = append(args, filter.SourceName)
	}
	if filter.Language != nil {
		conditions = append(conditions, "language = ?")
		args = append(args, *filter.Language)
	}

	query := `SELECT ` + recordColumns + ` FROM import_records`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []ImportRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}

	return records, nil
}

// GetRecord loads a record with its blocks, assets and taxonomy.
func (r *RecordRepo) GetRecord(id int64) (*ImportRecord, error) {
	row := r.db.QueryRow(`SELECT `+recordColumns+` FROM import_records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	if rec.Blocks, err = r.getBlocks(id); err != nil {
		return nil, err
	}
	if rec.Assets, err = r.getAssets(id); err != nil {
		return nil, err
	}
	if rec.Categories, err = r.getTaxonomy(id, KindCategory); err != nil {
		return nil, err
	}
	if rec.Tags, err = r.getTaxonomy(id, KindTag); err != nil {
		return nil, err
	}

	return rec, nil
}

func (r *RecordRepo) getBlocks(recordID int64) ([]ContentBlock, error) {
	rows, err := r.db.Query(`
		SELECT id, position, language, group_class, text_json, images_json
		FROM content_blocks WHERE record_id = ? ORDER BY position
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to get content blocks: %w", err)
	}
	defer rows.Close()

	var blocks []ContentBlock
	for rows.Next() {
		var b ContentBlock
		if err := rows.Scan(&b.ID, &b.Position, &b.Language, &b.GroupClass, &b.TextJSON, &b.ImagesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan content block: %w", err)
		}
		blocks = append(blocks, b)
	}

	return blocks, rows.Err()
}

func (r *RecordRepo) getAssets(recordID int64) ([]RecordAsset, error) {
	rows, err := r.db.Query(`
		SELECT id, role, block_position, path, hash, mime_type, size, source_url, alt, title, link
		FROM record_assets WHERE record_id = ? ORDER BY id
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to get record assets: %w", err)
	}
	defer rows.Close()

	var assets []RecordAsset
	for rows.Next() {
		var a RecordAsset
		err := rows.Scan(&a.ID, &a.Role, &a.BlockPosition, &a.Path, &a.Hash, &a.MimeType, &a.Size,
			&a.SourceURL, &a.Alt, &a.Title, &a.Link)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record asset: %w", err)
		}
		assets = append(assets, a)
	}

	return assets, rows.Err()
}

func (r *RecordRepo) getTaxonomy(recordID int64, kind string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT taxonomy_id FROM record_taxonomy
		WHERE record_id = ? AND kind = ? ORDER BY position
	`, recordID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record %s: %w", kind, err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *RecordRepo) CountRecords(sourceName string) (int, error) {
	query := `SELECT COUNT(*) FROM import_records`
	var args []any
	if sourceName != "" {
		query += ` WHERE source_name = ?`
		args = append(args, sourceName)
	}

	var count int
	if err := r.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	return count, nil
}
