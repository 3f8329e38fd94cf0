package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/conorfennell/kartuli/internal/domain"
)

// ItemRef is the part of a stored item sync needs to detect changes.
type ItemRef struct {
	CourseID string
	ID       string
	Order    int
	Hash     string
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}

// UpsertCourse inserts a course or refreshes its header.
func (db *DB) UpsertCourse(ctx context.Context, c domain.Course, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, db.q(`
		INSERT INTO courses (id, title, description, icon, kind, sort_order, source_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			icon = excluded.icon,
			kind = excluded.kind,
			sort_order = excluded.sort_order,
			source_id = excluded.source_id,
			updated_at = excluded.updated_at
	`), c.ID, c.Title, c.Description, c.Icon, string(c.Kind), c.Order, nullID(sourceID), db.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert course %s: %w", c.ID, err)
	}
	return nil
}

// GetCourse returns a course by id, or nil when it does not exist.
func (db *DB) GetCourse(ctx context.Context, id string) (*domain.Course, error) {
	var c domain.Course
	var kind string
	err := db.conn.QueryRowContext(ctx, db.q(`
		SELECT id, title, description, icon, kind, sort_order
		FROM courses WHERE id = ?
	`), id).Scan(&c.ID, &c.Title, &c.Description, &c.Icon, &kind, &c.Order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get course %s: %w", id, err)
	}
	c.Kind = domain.CourseKind(kind)
	return &c, nil
}

// ListCourseMetas returns every course with its item count, in display order.
func (db *DB) ListCourseMetas(ctx context.Context) ([]domain.CourseMeta, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT c.id, c.title, c.description, c.icon, c.kind, COUNT(i.id)
		FROM courses c
		LEFT JOIN items i ON i.course_id = c.id
		GROUP BY c.id, c.title, c.description, c.icon, c.kind, c.sort_order
		ORDER BY c.sort_order, c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	var metas []domain.CourseMeta
	for rows.Next() {
		var m domain.CourseMeta
		var kind string
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.Icon, &kind, &m.TotalItems); err != nil {
			return nil, fmt.Errorf("failed to scan course row: %w", err)
		}
		m.Kind = domain.CourseKind(kind)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// ListCourseIDsBySource returns the ids of the courses a source provides.
func (db *DB) ListCourseIDsBySource(ctx context.Context, sourceID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, db.q(`
		SELECT id FROM courses WHERE source_id = ? ORDER BY id
	`), sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses for source ID %d: %w", sourceID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan course id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteCourse removes a course and its items.
func (db *DB) DeleteCourse(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, db.q(`DELETE FROM items WHERE course_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete items of course %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, db.q(`DELETE FROM courses WHERE id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete course %s: %w", id, err)
		}
		return nil
	})
}

// InsertItem inserts a new item.
func (db *DB) InsertItem(ctx context.Context, item domain.CatalogItem, sourceID int64) error {
	fields, fakes, err := encodePayload(item)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, db.q(`
		INSERT INTO items (course_id, id, sort_order, fields, fake_words, hash, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), item.CourseID, item.ID, item.Order, fields, fakes, item.Hash, nullID(sourceID))
	if err != nil {
		return fmt.Errorf("failed to insert item %s/%s: %w", item.CourseID, item.ID, err)
	}
	return nil
}

// UpdateItem replaces the payload, order and hash of an existing item.
func (db *DB) UpdateItem(ctx context.Context, item domain.CatalogItem) error {
	fields, fakes, err := encodePayload(item)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, db.q(`
		UPDATE items
		SET sort_order = ?, fields = ?, fake_words = ?, hash = ?
		WHERE course_id = ? AND id = ?
	`), item.Order, fields, fakes, item.Hash, item.CourseID, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update item %s/%s: %w", item.CourseID, item.ID, err)
	}
	return nil
}

// DeleteItem removes an item from the catalog.
func (db *DB) DeleteItem(ctx context.Context, courseID, id string) error {
	_, err := db.conn.ExecContext(ctx, db.q(`
		DELETE FROM items
		WHERE course_id = ? AND id = ?
	`), courseID, id)
	if err != nil {
		return fmt.Errorf("failed to delete item %s/%s: %w", courseID, id, err)
	}
	return nil
}

// ListItems returns the items of a course ordered by order, then id.
func (db *DB) ListItems(ctx context.Context, courseID string) ([]domain.CatalogItem, error) {
	rows, err := db.conn.QueryContext(ctx, db.q(`
		SELECT course_id, id, sort_order, fields, fake_words, hash
		FROM items WHERE course_id = ?
		ORDER BY sort_order, id
	`), courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items of course %s: %w", courseID, err)
	}
	defer rows.Close()

	var items []domain.CatalogItem
	for rows.Next() {
		var it domain.CatalogItem
		var fields, fakes string
		if err := rows.Scan(&it.CourseID, &it.ID, &it.Order, &fields, &fakes, &it.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan item row for course %s: %w", courseID, err)
		}
		if err := json.Unmarshal([]byte(fields), &it.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields of item %s/%s: %w", courseID, it.ID, err)
		}
		if err := json.Unmarshal([]byte(fakes), &it.FakeWords); err != nil {
			return nil, fmt.Errorf("failed to decode fake words of item %s/%s: %w", courseID, it.ID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetItemRefsBySource returns the identity, order and hash of every item a
// source provided.
func (db *DB) GetItemRefsBySource(ctx context.Context, sourceID int64) ([]ItemRef, error) {
	rows, err := db.conn.QueryContext(ctx, db.q(`
		SELECT course_id, id, sort_order, hash
		FROM items WHERE source_id = ?
	`), sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get items for source ID %d: %w", sourceID, err)
	}
	defer rows.Close()

	var refs []ItemRef
	for rows.Next() {
		var r ItemRef
		if err := rows.Scan(&r.CourseID, &r.ID, &r.Order, &r.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan item row for source ID %d: %w", sourceID, err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func encodePayload(item domain.CatalogItem) (string, string, error) {
	fieldMap := item.Fields
	if fieldMap == nil {
		fieldMap = map[string]string{}
	}
	fields, err := json.Marshal(fieldMap)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode fields of item %s: %w", item.ID, err)
	}
	fakeList := item.FakeWords
	if fakeList == nil {
		fakeList = []string{}
	}
	fakes, err := json.Marshal(fakeList)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode fake words of item %s: %w", item.ID, err)
	}
	return string(fields), string(fakes), nil
}
