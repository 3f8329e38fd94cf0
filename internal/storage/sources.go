package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Source types.
const (
	SourceLocal = "local"
	SourceGit   = "git"
)

// Source represents a deck source, either a local path or a Git URL.
type Source struct {
	ID          int64
	Path        string
	Type        string
	LastScanned sql.NullTime
}

// InsertSource inserts a new source into the database and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path, sourceType string) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, db.q(`
		INSERT INTO sources (path, type)
		VALUES (?, ?)
		RETURNING id
	`), path, sourceType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source by its path. It returns nil when the
// source is unknown.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (*Source, error) {
	var s Source
	row := db.conn.QueryRowContext(ctx, db.q(`
		SELECT id, path, type, last_scanned
		FROM sources WHERE path = ?
	`), path)

	err := row.Scan(&s.ID, &s.Path, &s.Type, &s.LastScanned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return &s, nil
}

// GetAllSources retrieves all stored sources.
func (db *DB) GetAllSources(ctx context.Context) ([]Source, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, path, type, last_scanned
		FROM sources
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.Path, &s.Type, &s.LastScanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, db.q(`
		UPDATE sources
		SET last_scanned = ?
		WHERE id = ?
	`), db.now().UTC(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes a source together with the courses and items it
// contributed. Learner progress is kept.
func (db *DB) DeleteSource(ctx context.Context, sourceID int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, db.q(`DELETE FROM items WHERE source_id = ?`), sourceID); err != nil {
			return fmt.Errorf("failed to delete items of source %d: %w", sourceID, err)
		}
		if _, err := tx.ExecContext(ctx, db.q(`DELETE FROM items WHERE course_id IN (SELECT id FROM courses WHERE source_id = ?)`), sourceID); err != nil {
			return fmt.Errorf("failed to delete course items of source %d: %w", sourceID, err)
		}
		if _, err := tx.ExecContext(ctx, db.q(`DELETE FROM courses WHERE source_id = ?`), sourceID); err != nil {
			return fmt.Errorf("failed to delete courses of source %d: %w", sourceID, err)
		}
		res, err := tx.ExecContext(ctx, db.q(`DELETE FROM sources WHERE id = ?`), sourceID)
		if err != nil {
			return fmt.Errorf("failed to delete source %d: %w", sourceID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("source %d: %w", sourceID, ErrSourceNotFound)
		}
		return nil
	})
}

// ErrSourceNotFound is returned when deleting an unknown source.
var ErrSourceNotFound = errors.New("source not found")
