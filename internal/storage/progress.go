package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/conorfennell/kartuli/internal/domain"
	"github.com/conorfennell/kartuli/internal/mastery"
	"github.com/conorfennell/kartuli/internal/progress"
)

var _ progress.Store = (*DB)(nil)

// Get loads the progress record of a user for a course, or nil when the
// user has never written any.
func (db *DB) Get(ctx context.Context, userID, courseID string) (*domain.ProgressRecord, error) {
	rec := &domain.ProgressRecord{UserID: userID, CourseID: courseID}
	err := db.conn.QueryRowContext(ctx, db.q(`
		SELECT is_finished, created_at, last_updated
		FROM progress WHERE user_id = ? AND course_id = ?
	`), userID, courseID).Scan(&rec.IsFinished, &rec.CreatedAt, &rec.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get progress for %s/%s: %w", userID, courseID, err)
	}

	learned, err := db.queryStrings(ctx, `
		SELECT item_id FROM learned_items WHERE user_id = ? AND course_id = ?
	`, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get learned items for %s/%s: %w", userID, courseID, err)
	}
	sort.Strings(learned)
	rec.LearnedItemIDs = learned

	rows, err := db.conn.QueryContext(ctx, db.q(`
		SELECT item_id, correct FROM item_streaks WHERE user_id = ? AND course_id = ?
	`), userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get streaks for %s/%s: %w", userID, courseID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan streak row: %w", err)
		}
		if rec.ItemProgress == nil {
			rec.ItemProgress = make(map[string]int)
		}
		rec.ItemProgress[id] = n
	}
	return rec, rows.Err()
}

// Merge upserts a partial progress record in one transaction.
func (db *DB) Merge(ctx context.Context, userID, courseID string, p progress.Patch) error {
	if userID == "" {
		return progress.ErrAnonymous
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := db.touch(ctx, tx, userID, courseID, p.IsFinished); err != nil {
			return err
		}
		for _, id := range p.AddLearned {
			if err := db.setLearned(ctx, tx, userID, courseID, id, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// AdjustStreak applies one answer to an item's streak. The streak row is
// updated in place, so concurrent answers for the same item serialize on it
// instead of overwriting each other.
func (db *DB) AdjustStreak(ctx context.Context, userID, courseID, itemID string, correct bool) (progress.StreakResult, error) {
	if userID == "" {
		return progress.StreakResult{}, progress.ErrAnonymous
	}

	delta, initial := -1, 0
	if correct {
		delta, initial = 1, 1
	}

	var res progress.StreakResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := db.touch(ctx, tx, userID, courseID, nil); err != nil {
			return err
		}

		err := tx.QueryRowContext(ctx, db.q(`
			INSERT INTO item_streaks (user_id, course_id, item_id, correct)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, course_id, item_id) DO UPDATE SET correct = CASE
				WHEN item_streaks.correct + ? > ? THEN ?
				WHEN item_streaks.correct + ? < 0 THEN 0
				ELSE item_streaks.correct + ?
			END
			RETURNING correct
		`), userID, courseID, itemID, initial,
			delta, mastery.StreakThreshold, mastery.StreakThreshold,
			delta,
			delta,
		).Scan(&res.Correct)
		if err != nil {
			return fmt.Errorf("failed to adjust streak of %s for %s/%s: %w", itemID, userID, courseID, err)
		}

		var wasLearned bool
		err = tx.QueryRowContext(ctx, db.q(`
			SELECT EXISTS (SELECT 1 FROM learned_items WHERE user_id = ? AND course_id = ? AND item_id = ?)
		`), userID, courseID, itemID).Scan(&wasLearned)
		if err != nil {
			return fmt.Errorf("failed to check learned state of %s: %w", itemID, err)
		}

		res.Learned = mastery.Streak{Correct: res.Correct}.IsLearned()
		switch {
		case res.Learned && !wasLearned:
			res.Transition = mastery.BecameLearned
		case !res.Learned && wasLearned:
			res.Transition = mastery.BecameUnlearned
		}
		if res.Learned != wasLearned {
			return db.setLearned(ctx, tx, userID, courseID, itemID, res.Learned)
		}
		return nil
	})
	if err != nil {
		return progress.StreakResult{}, err
	}
	return res, nil
}

// Reset clears the learned items, streaks and finished flag of a record.
func (db *DB) Reset(ctx context.Context, userID, courseID string) error {
	if userID == "" {
		return progress.ErrAnonymous
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, db.q(`DELETE FROM learned_items WHERE user_id = ? AND course_id = ?`), userID, courseID); err != nil {
			return fmt.Errorf("failed to clear learned items for %s/%s: %w", userID, courseID, err)
		}
		if _, err := tx.ExecContext(ctx, db.q(`DELETE FROM item_streaks WHERE user_id = ? AND course_id = ?`), userID, courseID); err != nil {
			return fmt.Errorf("failed to clear streaks for %s/%s: %w", userID, courseID, err)
		}
		_, err := tx.ExecContext(ctx, db.q(`
			UPDATE progress SET is_finished = ?, last_updated = ?
			WHERE user_id = ? AND course_id = ?
		`), false, db.now().UTC(), userID, courseID)
		if err != nil {
			return fmt.Errorf("failed to reset progress for %s/%s: %w", userID, courseID, err)
		}
		return nil
	})
}

// touch creates the progress row if needed and bumps last_updated, setting
// is_finished only when finished is non-nil.
func (db *DB) touch(ctx context.Context, tx *sql.Tx, userID, courseID string, finished *bool) error {
	now := db.now().UTC()
	var err error
	if finished != nil {
		_, err = tx.ExecContext(ctx, db.q(`
			INSERT INTO progress (user_id, course_id, is_finished, created_at, last_updated)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id, course_id) DO UPDATE SET
				is_finished = excluded.is_finished,
				last_updated = excluded.last_updated
		`), userID, courseID, *finished, now, now)
	} else {
		_, err = tx.ExecContext(ctx, db.q(`
			INSERT INTO progress (user_id, course_id, is_finished, created_at, last_updated)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id, course_id) DO UPDATE SET
				last_updated = excluded.last_updated
		`), userID, courseID, false, now, now)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert progress for %s/%s: %w", userID, courseID, err)
	}
	return nil
}

func (db *DB) setLearned(ctx context.Context, tx *sql.Tx, userID, courseID, itemID string, learned bool) error {
	var err error
	if learned {
		_, err = tx.ExecContext(ctx, db.q(`
			INSERT INTO learned_items (user_id, course_id, item_id)
			VALUES (?, ?, ?)
			ON CONFLICT (user_id, course_id, item_id) DO NOTHING
		`), userID, courseID, itemID)
	} else {
		_, err = tx.ExecContext(ctx, db.q(`
			DELETE FROM learned_items
			WHERE user_id = ? AND course_id = ? AND item_id = ?
		`), userID, courseID, itemID)
	}
	if err != nil {
		return fmt.Errorf("failed to update learned state of %s for %s/%s: %w", itemID, userID, courseID, err)
	}
	return nil
}

func (db *DB) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, db.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
