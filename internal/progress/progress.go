// Package progress defines how per-user course progress is read and written.
package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/conorfennell/kartuli/internal/domain"
	"github.com/conorfennell/kartuli/internal/mastery"
)

// ErrAnonymous is returned by stores asked to persist progress for a caller
// without an identity. Callers treat it as a no-op.
var ErrAnonymous = errors.New("anonymous user")

// Patch is a partial update merged into a progress record. Fields left at
// their zero value are preserved.
// Streaks change only through Store.AdjustStreak.
type Patch struct {
	AddLearned []string
	IsFinished *bool
}

// Finished returns a patch that only sets the finished flag.
func Finished(v bool) Patch {
	return Patch{IsFinished: &v}
}

// Empty reports whether applying p would change nothing.
func (p Patch) Empty() bool {
	return len(p.AddLearned) == 0 && p.IsFinished == nil
}

// StreakResult is the outcome of an atomic streak step.
type StreakResult struct {
	Correct    int
	Learned    bool
	Transition mastery.Transition
}

// Store persists one progress record per (user, course).
type Store interface {
	// Get returns nil and no error when the record does not exist.
	Get(ctx context.Context, userID, courseID string) (*domain.ProgressRecord, error)
	// Merge upserts p into the record, creating it when missing.
	Merge(ctx context.Context, userID, courseID string, p Patch) error
	// AdjustStreak applies one answer to the item's streak and keeps the
	// learned ids in step, in a single read-check-write.
	AdjustStreak(ctx context.Context, userID, courseID, itemID string, correct bool) (StreakResult, error)
	// Reset clears learned ids, streaks and the finished flag.
	Reset(ctx context.Context, userID, courseID string) error
}

// ReadError wraps a failed read from a Store.
type ReadError struct {
	UserID   string
	CourseID string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read progress for %s/%s: %v", e.UserID, e.CourseID, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps a failed write to a Store.
type WriteError struct {
	Op       string
	UserID   string
	CourseID string
	ItemID   string
	Err      error
}

func (e *WriteError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%s progress for %s/%s item %s: %v", e.Op, e.UserID, e.CourseID, e.ItemID, e.Err)
	}
	return fmt.Sprintf("%s progress for %s/%s: %v", e.Op, e.UserID, e.CourseID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Load reads a record and wraps failures in a ReadError. Anonymous callers
// get an empty record without touching the store.
func Load(ctx context.Context, s Store, userID, courseID string) (*domain.ProgressRecord, error) {
	if userID == "" {
		return &domain.ProgressRecord{CourseID: courseID}, nil
	}
	rec, err := s.Get(ctx, userID, courseID)
	if err != nil {
		return nil, &ReadError{UserID: userID, CourseID: courseID, Err: err}
	}
	if rec == nil {
		rec = &domain.ProgressRecord{UserID: userID, CourseID: courseID}
	}
	return rec, nil
}
