package database

import (
	"database/sql"
	"fmt"
	"time"
)

type SourceRepo struct {
	db *DB
}

func NewSourceRepository(db *DB) *SourceRepo {
	return &SourceRepo{db: db}
}

const sourceColumns = `name, path, format, enabled, last_run_at, next_run_at,
	last_status, last_error, last_imported, created_at, updated_at`

func scanSource(row rowScanner) (*Source, error) {
	var src Source
	var lastRunAt, nextRunAt sql.NullTime

	err := row.Scan(&src.Name, &src.Path, &src.Format, &src.Enabled, &lastRunAt, &nextRunAt,
		&src.LastStatus, &src.LastError, &src.LastImported, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastRunAt.Valid {
		src.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		src.NextRunAt = &nextRunAt.Time
	}

	return &src, nil
}

func (r *SourceRepo) GetSource(name string) (*Source, error) {
	row := r.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE name = ?`, name)

	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return src, nil
}

func (r *SourceRepo) GetSources() ([]Source, error) {
	rows, err := r.db.Query(`SELECT ` + sourceColumns + ` FROM sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *src)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return sources, nil
}

// UpsertSource registers a source configuration. Run status is kept.
func (r *SourceRepo) UpsertSource(name, path, format string, enabled bool) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO sources (name, path, format, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			path = excluded.path,
			format = excluded.format,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, name, path, format, enabled, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert source: %w", err)
	}

	return nil
}

func (r *SourceRepo) UpdateRunStatus(name, status, errMsg string, imported int, nextRun time.Time) error {
	now := time.Now().UTC()
	res, err := r.db.Exec(`
		UPDATE sources
		SET last_run_at = ?, next_run_at = ?, last_status = ?, last_error = ?,
			last_imported = ?, updated_at = ?
		WHERE name = ?
	`, now, nextRun.UTC(), status, errMsg, imported, now, name)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	if count, err := res.RowsAffected(); err == nil && count == 0 {
		return fmt.Errorf("source not found: %s", name)
	}

	return nil
}
