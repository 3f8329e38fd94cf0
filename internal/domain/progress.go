package domain

import "time"

// ProgressRecord is the persisted progress of one user in one course.
type ProgressRecord struct {
	UserID         string
	CourseID       string
	LearnedItemIDs []string
	// ItemProgress maps item id to a correct-answer streak in [0,3].
	// Only streak courses populate it.
	ItemProgress map[string]int
	IsFinished   bool
	LastUpdated  time.Time
	CreatedAt    time.Time
}

// LearnedSet returns the learned ids as a set.
func (r *ProgressRecord) LearnedSet() map[string]struct{} {
	set := make(map[string]struct{})
	if r == nil {
		return set
	}
	for _, id := range r.LearnedItemIDs {
		set[id] = struct{}{}
	}
	return set
}
