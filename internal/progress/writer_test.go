package progress

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/kartuli/internal/domain"
)

type fakeStore struct {
	GetFunc    func(ctx context.Context, userID, courseID string) error
	MergeFunc  func(ctx context.Context, userID, courseID string, p Patch) error
	StreakFunc func(ctx context.Context, userID, courseID, itemID string, correct bool) error
	ResetFunc  func(ctx context.Context, userID, courseID string) error
}

func (f *fakeStore) Get(ctx context.Context, userID, courseID string) (*domain.ProgressRecord, error) {
	if f.GetFunc != nil {
		if err := f.GetFunc(ctx, userID, courseID); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (f *fakeStore) Merge(ctx context.Context, userID, courseID string, p Patch) error {
	if f.MergeFunc != nil {
		return f.MergeFunc(ctx, userID, courseID, p)
	}
	return nil
}

func (f *fakeStore) AdjustStreak(ctx context.Context, userID, courseID, itemID string, correct bool) (StreakResult, error) {
	if f.StreakFunc != nil {
		return StreakResult{}, f.StreakFunc(ctx, userID, courseID, itemID, correct)
	}
	return StreakResult{}, nil
}

func (f *fakeStore) Reset(ctx context.Context, userID, courseID string) error {
	if f.ResetFunc != nil {
		return f.ResetFunc(ctx, userID, courseID)
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterAppliesInOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w := NewWriter(store, WriterConfig{Workers: 3, MaxAttempts: 1}, discardLogger())
	defer w.Close()

	// Three correct answers then one wrong one must land in that order.
	for _, correct := range []bool{true, true, true, false} {
		require.NoError(t, w.AdjustStreak(ctx, "u1", "sentences", "s1", correct))
	}
	require.NoError(t, w.Flush(ctx))

	rec, err := store.Get(ctx, "u1", "sentences")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ItemProgress["s1"])
	assert.Empty(t, rec.LearnedItemIDs)
}

func TestWriterResetIsOrderedWithMerges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w := NewWriter(store, WriterConfig{Workers: 8}, discardLogger())
	defer w.Close()

	require.NoError(t, w.Merge(ctx, "u1", "alphabet", Patch{AddLearned: []string{"1", "2"}}))
	require.NoError(t, w.Reset(ctx, "u1", "alphabet"))
	require.NoError(t, w.Merge(ctx, "u1", "alphabet", Patch{AddLearned: []string{"3"}}))
	require.NoError(t, w.Flush(ctx))

	rec, err := store.Get(ctx, "u1", "alphabet")
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, rec.LearnedItemIDs)
}

func TestWriterRetries(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	store := &fakeStore{
		MergeFunc: func(context.Context, string, string, Patch) error {
			if calls.Add(1) < 3 {
				return assert.AnError
			}
			return nil
		},
	}
	w := NewWriter(store, WriterConfig{Workers: 1, MaxAttempts: 5, RetryBase: time.Millisecond}, discardLogger())
	defer w.Close()

	require.NoError(t, w.Merge(ctx, "u1", "alphabet", Finished(true)))
	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWriterDropsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	store := &fakeStore{
		MergeFunc: func(context.Context, string, string, Patch) error {
			calls.Add(1)
			return assert.AnError
		},
	}
	w := NewWriter(store, WriterConfig{Workers: 1, MaxAttempts: 3, RetryBase: time.Millisecond}, discardLogger())
	defer w.Close()

	require.NoError(t, w.Merge(ctx, "u1", "alphabet", Finished(true)))
	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWriterIgnoresAnonymous(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{
		MergeFunc: func(context.Context, string, string, Patch) error {
			t.Error("anonymous writes must not reach the store")
			return nil
		},
	}
	w := NewWriter(store, WriterConfig{}, discardLogger())
	defer w.Close()

	require.NoError(t, w.Merge(ctx, "", "alphabet", Finished(true)))
	require.NoError(t, w.Flush(ctx))
}

func TestWriterFlushHonoursContext(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	store := &fakeStore{
		MergeFunc: func(context.Context, string, string, Patch) error {
			<-release
			return nil
		},
	}
	w := NewWriter(store, WriterConfig{Workers: 1}, discardLogger())
	defer func() {
		once.Do(func() { close(release) })
		w.Close()
	}()

	require.NoError(t, w.Merge(context.Background(), "u1", "alphabet", Finished(true)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Flush(ctx), context.DeadlineExceeded)

	once.Do(func() { close(release) })
	require.NoError(t, w.Flush(context.Background()))
}

func TestWriterClosed(t *testing.T) {
	w := NewWriter(NewMemoryStore(), WriterConfig{}, discardLogger())
	w.Close()
	w.Close()
	assert.ErrorIs(t, w.Merge(context.Background(), "u1", "alphabet", Finished(true)), ErrWriterClosed)
}

func TestWriterFlushIgnoresLaterWrites(t *testing.T) {
	var applied atomic.Bool
	store := &fakeStore{
		MergeFunc: func(_ context.Context, userID, _ string, _ Patch) error {
			if userID == "alice" {
				applied.Store(true)
				return nil
			}
			time.Sleep(2 * time.Millisecond)
			return nil
		},
	}
	// One shard and a short queue keep bob's writes pending for as long as
	// the flush runs.
	w := NewWriter(store, WriterConfig{Workers: 1, QueueSize: 4}, discardLogger())
	defer w.Close()

	require.NoError(t, w.Merge(context.Background(), "alice", "alphabet", Finished(true)))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = w.Merge(context.Background(), "bob", "alphabet", Finished(true))
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Flush(ctx))
	assert.True(t, applied.Load())

	require.NoError(t, w.FlushCourse(ctx, "alice", "alphabet"))
}

func TestWriterFlushCourse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w := NewWriter(store, WriterConfig{Workers: 4}, discardLogger())
	defer w.Close()

	require.NoError(t, w.Merge(ctx, "u1", "alphabet", Patch{AddLearned: []string{"1"}}))
	require.NoError(t, w.FlushCourse(ctx, "u1", "alphabet"))

	rec, err := store.Get(ctx, "u1", "alphabet")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, rec.LearnedItemIDs)

	require.NoError(t, w.FlushCourse(ctx, "", "alphabet"))

	w.Close()
	assert.ErrorIs(t, w.Flush(ctx), ErrWriterClosed)
}
