package progress

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// ErrWriterClosed is returned when submitting to a closed Writer.
var ErrWriterClosed = errors.New("progress writer closed")

// WriterConfig tunes a Writer.
type WriterConfig struct {
	Workers     int
	MaxAttempts int
	RetryBase   time.Duration
	QueueSize   int
}

type opKind int

const (
	opMerge opKind = iota
	opStreak
	opReset
	opBarrier
)

func (k opKind) String() string {
	switch k {
	case opStreak:
		return "adjust streak"
	case opReset:
		return "reset"
	case opBarrier:
		return "barrier"
	}
	return "merge"
}

type op struct {
	kind     opKind
	userID   string
	courseID string
	itemID   string
	patch    Patch
	correct  bool
	done     chan struct{}
}

// Writer applies progress writes in the background. Writes for one
// (user, course) are applied in submission order by a single worker; failed
// writes are retried with exponential backoff and then dropped.
type Writer struct {
	store  Store
	cfg    WriterConfig
	logger *slog.Logger

	shards []chan op
	wg     sync.WaitGroup
	stop   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewWriter starts the writer's workers.
func NewWriter(store Store, cfg WriterConfig, logger *slog.Logger) *Writer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Writer{
		store:  store,
		cfg:    cfg,
		logger: logger,
		shards: make([]chan op, cfg.Workers),
		stop:   make(chan struct{}),
	}

	for i := range w.shards {
		w.shards[i] = make(chan op, cfg.QueueSize)
		w.wg.Add(1)
		go w.worker(w.shards[i])
	}
	return w
}

// Merge queues a merge of p into the record.
func (w *Writer) Merge(ctx context.Context, userID, courseID string, p Patch) error {
	if p.Empty() {
		return nil
	}
	return w.submit(ctx, op{kind: opMerge, userID: userID, courseID: courseID, patch: p})
}

// AdjustStreak queues one answer for a streak item.
func (w *Writer) AdjustStreak(ctx context.Context, userID, courseID, itemID string, correct bool) error {
	return w.submit(ctx, op{kind: opStreak, userID: userID, courseID: courseID, itemID: itemID, correct: correct})
}

// Reset queues a progress reset.
func (w *Writer) Reset(ctx context.Context, userID, courseID string) error {
	return w.submit(ctx, op{kind: opReset, userID: userID, courseID: courseID})
}

// Flush blocks until every write submitted before the call has been applied
// or dropped. Writes submitted while it waits are not waited for.
func (w *Writer) Flush(ctx context.Context) error {
	return w.barrier(ctx, w.shards...)
}

// FlushCourse is Flush restricted to the writes of one (user, course).
func (w *Writer) FlushCourse(ctx context.Context, userID, courseID string) error {
	if userID == "" {
		return nil
	}
	return w.barrier(ctx, w.shards[w.shardFor(op{userID: userID, courseID: courseID})])
}

// barrier queues a marker behind the pending writes of each shard and waits
// for the workers to reach them.
func (w *Writer) barrier(ctx context.Context, shards ...chan op) error {
	dones := make([]chan struct{}, 0, len(shards))

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}
	for _, ch := range shards {
		done := make(chan struct{})
		select {
		case ch <- op{kind: opBarrier, done: done}:
			dones = append(dones, done)
		case <-ctx.Done():
			w.mu.RUnlock()
			return ctx.Err()
		}
	}
	w.mu.RUnlock()

	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops accepting writes, drains the queues and waits for the workers.
// Retries still in their backoff are abandoned.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, ch := range w.shards {
		close(ch)
	}
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()
}

func (w *Writer) submit(ctx context.Context, o op) error {
	// Progress is not saved for anonymous callers.
	if o.userID == "" {
		return nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	select {
	case w.shards[w.shardFor(o)] <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) shardFor(o op) int {
	h := fnv.New32a()
	h.Write([]byte(o.userID))
	h.Write([]byte{0})
	h.Write([]byte(o.courseID))
	return int(h.Sum32() % uint32(len(w.shards)))
}

func (w *Writer) worker(ch <-chan op) {
	defer w.wg.Done()
	for o := range ch {
		if o.kind == opBarrier {
			close(o.done)
			continue
		}
		w.apply(o)
	}
}

func (w *Writer) apply(o op) {
	var err error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		err = w.run(o)
		if err == nil || errors.Is(err, ErrAnonymous) {
			return
		}
		if attempt == w.cfg.MaxAttempts {
			break
		}

		backoff := w.cfg.RetryBase << (attempt - 1)
		w.logger.Warn("progress write failed, retrying",
			"op", o.kind.String(),
			"user_id", o.userID,
			"course_id", o.courseID,
			"item_id", o.itemID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-time.After(backoff):
		case <-w.stop:
			attempt = w.cfg.MaxAttempts
		}
	}

	w.logger.Error("dropping progress write",
		"op", o.kind.String(),
		"user_id", o.userID,
		"course_id", o.courseID,
		"item_id", o.itemID,
		"error", &WriteError{Op: o.kind.String(), UserID: o.userID, CourseID: o.courseID, ItemID: o.itemID, Err: err},
	)
}

func (w *Writer) run(o op) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch o.kind {
	case opStreak:
		res, err := w.store.AdjustStreak(ctx, o.userID, o.courseID, o.itemID, o.correct)
		if err != nil {
			return err
		}
		w.logger.Debug("streak stored",
			"user_id", o.userID,
			"course_id", o.courseID,
			"item_id", o.itemID,
			"correct_answers", res.Correct,
			"transition", res.Transition.String(),
		)
		return nil
	case opReset:
		return w.store.Reset(ctx, o.userID, o.courseID)
	default:
		return w.store.Merge(ctx, o.userID, o.courseID, o.patch)
	}
}
