// Package session runs learning sessions: it draws a working set from a
// course catalog, walks it one item at a time and records mastery.
package session

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/conorfennell/kartuli/internal/answer"
	"github.com/conorfennell/kartuli/internal/catalog"
	"github.com/conorfennell/kartuli/internal/domain"
	"github.com/conorfennell/kartuli/internal/mastery"
	"github.com/conorfennell/kartuli/internal/progress"
)

var (
	ErrNotStarted   = errors.New("session not started")
	ErrInvalidState = errors.New("operation not allowed in current session state")
	ErrUnknownItem  = errors.New("item is not part of the working set")
	ErrWrongVariant = errors.New("operation does not apply to this course")
	ErrNotFound     = errors.New("session not found")
)

// Transition hints let clients finish their card animation before showing
// the next item.
const (
	SkipDelay    = 250 * time.Millisecond
	LearnedDelay = 450 * time.Millisecond
)

// State is the lifecycle position of a session.
type State int

const (
	NotStarted State = iota
	InProgress
	AllReviewed
)

func (s State) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case AllReviewed:
		return "all_reviewed"
	}
	return "not_started"
}

// Catalog supplies the items and metadata of a course.
type Catalog interface {
	ListItems(ctx context.Context, courseID string) ([]domain.CatalogItem, error)
	GetCourseMeta(ctx context.Context, courseID string) (domain.CourseMeta, error)
}

// Recorder persists progress changes. Implementations may apply them
// asynchronously.
type Recorder interface {
	Merge(ctx context.Context, userID, courseID string, p progress.Patch) error
	AdjustStreak(ctx context.Context, userID, courseID, itemID string, correct bool) error
	Reset(ctx context.Context, userID, courseID string) error
}

// Deps are the collaborators shared by every engine.
type Deps struct {
	Catalog  Catalog
	Store    progress.Store
	Recorder Recorder
	Logger   *slog.Logger
	// Size and SentenceSize cap the working set.
	Size         int
	SentenceSize int
	// NewRand seeds the shuffle of each engine; tests pin it.
	NewRand func() *rand.Rand
}

// View is a snapshot of a session for callers.
type View struct {
	ID              string
	UserID          string
	CourseID        string
	Meta            domain.CourseMeta
	State           State
	Variant         domain.MasteryVariant
	Current         *domain.CatalogItem
	WordBank        []string
	CorrectAnswers  int
	Processed       int
	Total           int
	SessionLearned  int
	LearnedCount    int
	SessionComplete bool
	CourseFinished  bool
	NothingToReview bool
}

// Result describes the effect of a single submission.
type Result struct {
	View
	Changed    bool
	Correct    *bool
	Expected   string
	Streak     int
	Transition mastery.Transition
	Delay      time.Duration
}

// Engine is the state machine of one learning session. Its methods are safe
// for concurrent use.
type Engine struct {
	mu sync.Mutex

	id       string
	userID   string
	courseID string
	deps     Deps
	logger   *slog.Logger
	rng      *rand.Rand

	meta     domain.CourseMeta
	policy   Policy
	catalog  []domain.CatalogItem
	learned  map[string]struct{}
	streaks  map[string]int
	finished bool

	state State
	iter  *Iterator
	bank  map[string][]string
}

// NewEngine returns an engine in the NotStarted state.
func NewEngine(id, userID, courseID string, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if deps.NewRand != nil {
		rng = deps.NewRand()
	}
	return &Engine{
		id:       id,
		userID:   userID,
		courseID: courseID,
		deps:     deps,
		logger:   logger.With("session_id", id, "user_id", userID, "course_id", courseID),
		rng:      rng,
		state:    NotStarted,
	}
}

// ID returns the session id.
func (e *Engine) ID() string { return e.id }

// UserID returns the owner of the session; "" for anonymous sessions.
func (e *Engine) UserID() string { return e.userID }

func (e *Engine) CourseID() string { return e.courseID }

// Start loads the catalog and the caller's progress and draws a working set.
// An empty catalog yields a session with nothing to review. Other catalog
// failures are returned and leave the session not started.
func (e *Engine) Start(ctx context.Context) (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, err := e.deps.Catalog.GetCourseMeta(ctx, e.courseID)
	if err != nil {
		return View{}, err
	}
	items, err := e.deps.Catalog.ListItems(ctx, e.courseID)
	if err != nil && !errors.Is(err, catalog.ErrCatalogEmpty) {
		return View{}, err
	}

	rec, err := progress.Load(ctx, e.deps.Store, e.userID, e.courseID)
	if err != nil {
		// The session still works from memory; progress just looks fresh.
		e.logger.Warn("failed to load progress", "error", err)
		rec = &domain.ProgressRecord{UserID: e.userID, CourseID: e.courseID}
	}

	e.meta = meta
	e.policy = PolicyFor(meta.Kind, e.deps.Size, e.deps.SentenceSize)
	e.catalog = items
	e.learned = rec.LearnedSet()
	e.streaks = make(map[string]int, len(rec.ItemProgress))
	for id, n := range rec.ItemProgress {
		e.streaks[id] = mastery.Clamp(n)
	}
	e.finished = rec.IsFinished

	if computed := e.courseFinished(); computed != e.finished {
		e.logger.Info("reconciling finished flag", "stored", e.finished, "computed", computed)
		e.finished = computed
		e.record(ctx, "", func() error {
			return e.deps.Recorder.Merge(ctx, e.userID, e.courseID, progress.Finished(computed))
		})
	}

	e.draw()
	return e.view(), nil
}

// Continue draws a new working set after the previous one was fully reviewed.
func (e *Engine) Continue(ctx context.Context) (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case NotStarted:
		return View{}, ErrNotStarted
	case InProgress:
		return View{}, ErrInvalidState
	}
	e.draw()
	return e.view(), nil
}

// Reset discards the current working set. Persisted progress is untouched.
func (e *Engine) Reset() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = NotStarted
	e.iter = nil
	e.bank = nil
	return e.view()
}

// ResetProgress clears the caller's learned items and streaks for the course
// and returns the session to NotStarted.
func (e *Engine) ResetProgress(ctx context.Context) (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.learned = make(map[string]struct{})
	e.streaks = make(map[string]int)
	e.finished = false
	e.state = NotStarted
	e.iter = nil
	e.bank = nil

	if e.userID != "" {
		if err := e.deps.Recorder.Reset(ctx, e.userID, e.courseID); err != nil {
			return View{}, err
		}
	}
	return e.view(), nil
}

// View returns the current snapshot.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view()
}

// Current returns the item being presented.
func (e *Engine) Current() (domain.CatalogItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.iter == nil {
		return domain.CatalogItem{}, false
	}
	return e.iter.Current()
}

// IsComplete reports whether the working set has been fully processed.
func (e *Engine) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == AllReviewed
}

// CourseFinished reports whether every catalog item is learned.
func (e *Engine) CourseFinished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.courseFinished()
}

// SubmitSkip moves past an item without recording anything.
func (e *Engine) SubmitSkip(ctx context.Context, itemID string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireStarted(itemID); err != nil {
		return Result{}, err
	}
	changed, err := e.iter.Advance(itemID, false)
	if err != nil {
		return Result{}, err
	}
	if changed {
		e.afterAdvance(ctx)
	}
	return Result{View: e.view(), Changed: changed, Delay: SkipDelay}, nil
}

// SubmitLearned marks a binary-mastery item learned once the caller has
// confirmed. Without confirmation nothing changes.
func (e *Engine) SubmitLearned(ctx context.Context, itemID string, confirm bool) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireStarted(itemID); err != nil {
		return Result{}, err
	}
	if e.policy.Variant != domain.Binary {
		return Result{}, ErrWrongVariant
	}
	if !confirm {
		return Result{View: e.view()}, nil
	}

	changed, err := e.iter.Advance(itemID, true)
	if err != nil {
		return Result{}, err
	}
	if changed {
		if _, known := e.learned[itemID]; !known {
			e.learned[itemID] = struct{}{}
			e.record(ctx, itemID, func() error {
				return e.deps.Recorder.Merge(ctx, e.userID, e.courseID, progress.Patch{AddLearned: []string{itemID}})
			})
		}
		e.afterAdvance(ctx)
	}
	return Result{View: e.view(), Changed: changed, Delay: LearnedDelay}, nil
}

// SubmitAnswer scores a constructed sentence for a streak-mastery item and
// moves past it. A correct answer raises the streak by one, a wrong answer
// lowers it by one.
func (e *Engine) SubmitAnswer(ctx context.Context, itemID, text string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireStarted(itemID); err != nil {
		return Result{}, err
	}
	if e.policy.Variant != domain.Streak {
		return Result{}, ErrWrongVariant
	}

	item, _ := e.iter.Item(itemID)
	expected := item.Field(answer.FieldTranslation)
	if e.iter.IsProcessed(itemID) {
		return Result{View: e.view(), Expected: expected, Streak: e.streaks[itemID]}, nil
	}

	correct := answer.Check(expected, text)
	streak := mastery.Streak{Correct: e.streaks[itemID]}
	var tr mastery.Transition
	if correct {
		streak, tr = streak.OnCorrect()
	} else {
		streak, tr = streak.OnWrong()
	}
	e.streaks[itemID] = streak.Correct
	switch tr {
	case mastery.BecameLearned:
		e.learned[itemID] = struct{}{}
	case mastery.BecameUnlearned:
		delete(e.learned, itemID)
	}

	e.record(ctx, itemID, func() error {
		return e.deps.Recorder.AdjustStreak(ctx, e.userID, e.courseID, itemID, correct)
	})

	if _, err := e.iter.Advance(itemID, tr == mastery.BecameLearned); err != nil {
		return Result{}, err
	}
	e.afterAdvance(ctx)

	delay := SkipDelay
	if tr == mastery.BecameLearned {
		delay = LearnedDelay
	}
	return Result{
		View:       e.view(),
		Changed:    true,
		Correct:    &correct,
		Expected:   expected,
		Streak:     streak.Correct,
		Transition: tr,
		Delay:      delay,
	}, nil
}

func (e *Engine) requireStarted(itemID string) error {
	if e.state == NotStarted || e.iter == nil {
		return ErrNotStarted
	}
	if !e.iter.Contains(itemID) {
		return ErrUnknownItem
	}
	return nil
}

// draw must be called with mu held.
func (e *Engine) draw() {
	set := Select(e.catalog, e.learned, e.policy, e.rng)
	e.iter = NewIterator(set)
	e.bank = make(map[string][]string)
	if e.policy.Variant == domain.Streak {
		for _, item := range e.iter.Items() {
			e.bank[item.ID] = answer.WordBank(item, e.rng)
		}
	}
	e.state = InProgress
	if e.iter.IsComplete() {
		e.state = AllReviewed
	}
}

// afterAdvance flips the session to AllReviewed once the working set is done
// and brings the stored finished flag in line with the learned set.
func (e *Engine) afterAdvance(ctx context.Context) {
	if !e.iter.IsComplete() {
		return
	}
	e.state = AllReviewed

	computed := e.courseFinished()
	if computed == e.finished {
		return
	}
	e.finished = computed
	e.record(ctx, "", func() error {
		return e.deps.Recorder.Merge(ctx, e.userID, e.courseID, progress.Finished(computed))
	})
}

func (e *Engine) courseFinished() bool {
	if len(e.catalog) == 0 {
		return false
	}
	return e.learnedInCatalog() >= len(e.catalog)
}

func (e *Engine) learnedInCatalog() int {
	n := 0
	for _, item := range e.catalog {
		if _, ok := e.learned[item.ID]; ok {
			n++
		}
	}
	return n
}

// record hands a write to the recorder. Failures are logged and the
// in-memory state stays authoritative.
func (e *Engine) record(ctx context.Context, itemID string, write func() error) {
	if e.userID == "" {
		return
	}
	if err := write(); err != nil {
		e.logger.Error("failed to record progress", "item_id", itemID, "error", err)
	}
}

func (e *Engine) view() View {
	v := View{
		ID:             e.id,
		UserID:         e.userID,
		CourseID:       e.courseID,
		Meta:           e.meta,
		State:          e.state,
		Variant:        e.policy.Variant,
		LearnedCount:   e.learnedInCatalog(),
		CourseFinished: e.courseFinished(),
	}
	if e.iter == nil {
		return v
	}
	v.Processed = e.iter.Processed()
	v.Total = e.iter.Total()
	v.SessionLearned = e.iter.SessionLearned()
	v.SessionComplete = e.iter.IsComplete()
	v.NothingToReview = e.iter.Total() == 0
	if cur, ok := e.iter.Current(); ok {
		v.Current = &cur
		v.CorrectAnswers = e.streaks[cur.ID]
		if bank, ok := e.bank[cur.ID]; ok {
			v.WordBank = append([]string(nil), bank...)
		}
	}
	return v
}
