package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conorfennell/kartuli/internal/domain"
	"github.com/conorfennell/kartuli/internal/mastery"
)

type key struct {
	user, course string
}

type memoryRecord struct {
	learned    map[string]struct{}
	streaks    map[string]int
	finished   bool
	created    time.Time
	lastUpdate time.Time
}

// MemoryStore keeps progress records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[key]*memoryRecord
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[key]*memoryRecord), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, userID, courseID string) (*domain.ProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[key{userID, courseID}]
	if !ok {
		return nil, nil
	}

	rec := &domain.ProgressRecord{
		UserID:         userID,
		CourseID:       courseID,
		LearnedItemIDs: make([]string, 0, len(r.learned)),
		IsFinished:     r.finished,
		CreatedAt:      r.created,
		LastUpdated:    r.lastUpdate,
	}
	for id := range r.learned {
		rec.LearnedItemIDs = append(rec.LearnedItemIDs, id)
	}
	sort.Strings(rec.LearnedItemIDs)
	if len(r.streaks) > 0 {
		rec.ItemProgress = make(map[string]int, len(r.streaks))
		for id, n := range r.streaks {
			rec.ItemProgress[id] = n
		}
	}
	return rec, nil
}

func (m *MemoryStore) Merge(_ context.Context, userID, courseID string, p Patch) error {
	if userID == "" {
		return ErrAnonymous
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.upsert(userID, courseID)
	for _, id := range p.AddLearned {
		r.learned[id] = struct{}{}
	}
	if p.IsFinished != nil {
		r.finished = *p.IsFinished
	}
	return nil
}

func (m *MemoryStore) AdjustStreak(_ context.Context, userID, courseID, itemID string, correct bool) (StreakResult, error) {
	if userID == "" {
		return StreakResult{}, ErrAnonymous
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.upsert(userID, courseID)
	next, tr := mastery.Step(r.streaks[itemID], correct)
	r.streaks[itemID] = next
	learned := mastery.Streak{Correct: next}.IsLearned()
	if learned {
		r.learned[itemID] = struct{}{}
	} else {
		delete(r.learned, itemID)
	}
	return StreakResult{Correct: next, Learned: learned, Transition: tr}, nil
}

func (m *MemoryStore) Reset(_ context.Context, userID, courseID string) error {
	if userID == "" {
		return ErrAnonymous
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[key{userID, courseID}]
	if !ok {
		return nil
	}
	r.learned = make(map[string]struct{})
	r.streaks = make(map[string]int)
	r.finished = false
	r.lastUpdate = m.now()
	return nil
}

// upsert must be called with mu held.
func (m *MemoryStore) upsert(userID, courseID string) *memoryRecord {
	k := key{userID, courseID}
	now := m.now()
	r, ok := m.records[k]
	if !ok {
		r = &memoryRecord{
			learned: make(map[string]struct{}),
			streaks: make(map[string]int),
			created: now,
		}
		m.records[k] = r
	}
	r.lastUpdate = now
	return r
}
