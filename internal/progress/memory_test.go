package progress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/kartuli/internal/mastery"
)

func TestMemoryStoreMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, err := s.Get(ctx, "u1", "alphabet")
	require.NoError(t, err)
	assert.Nil(t, rec, "missing record should be nil")

	t.Run("round trip keeps the learned set", func(t *testing.T) {
		require.NoError(t, s.Merge(ctx, "u1", "alphabet", Patch{AddLearned: []string{"3", "1", "2"}}))

		rec, err := s.Get(ctx, "u1", "alphabet")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"1", "2", "3"}, rec.LearnedItemIDs)
		assert.False(t, rec.CreatedAt.IsZero())
	})

	t.Run("adding an existing id is a no-op", func(t *testing.T) {
		require.NoError(t, s.Merge(ctx, "u1", "alphabet", Patch{AddLearned: []string{"1"}}))
		require.NoError(t, s.Merge(ctx, "u1", "alphabet", Patch{AddLearned: []string{"1"}}))

		rec, err := s.Get(ctx, "u1", "alphabet")
		require.NoError(t, err)
		assert.Len(t, rec.LearnedItemIDs, 3)
	})

	t.Run("unspecified fields are preserved", func(t *testing.T) {
		require.NoError(t, s.Merge(ctx, "u1", "alphabet", Finished(true)))

		rec, err := s.Get(ctx, "u1", "alphabet")
		require.NoError(t, err)
		assert.True(t, rec.IsFinished)
		assert.Len(t, rec.LearnedItemIDs, 3)
	})

	t.Run("records are per user and course", func(t *testing.T) {
		rec, err := s.Get(ctx, "u2", "alphabet")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("anonymous writes are refused", func(t *testing.T) {
		assert.ErrorIs(t, s.Merge(ctx, "", "alphabet", Finished(true)), ErrAnonymous)
	})
}

func TestMemoryStoreAdjustStreak(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 1; i <= 3; i++ {
		res, err := s.AdjustStreak(ctx, "u1", "sentences", "s1", true)
		require.NoError(t, err)
		assert.Equal(t, i, res.Correct)
	}

	rec, err := s.Get(ctx, "u1", "sentences")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, rec.LearnedItemIDs)
	assert.Equal(t, 3, rec.ItemProgress["s1"])

	res, err := s.AdjustStreak(ctx, "u1", "sentences", "s1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Correct)
	assert.False(t, res.Learned)
	assert.Equal(t, mastery.BecameUnlearned, res.Transition)

	rec, err = s.Get(ctx, "u1", "sentences")
	require.NoError(t, err)
	assert.Empty(t, rec.LearnedItemIDs)
	assert.Equal(t, 2, rec.ItemProgress["s1"])
}

func TestMemoryStoreReset(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Merge(ctx, "u1", "sentences", Patch{
		AddLearned: []string{"s1"},
		IsFinished: boolPtr(true),
	}))
	_, err := s.AdjustStreak(ctx, "u1", "sentences", "s2", true)
	require.NoError(t, err)

	rec, err := s.Get(ctx, "u1", "sentences")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ItemProgress["s2"])

	require.NoError(t, s.Reset(ctx, "u1", "sentences"))

	rec, err = s.Get(ctx, "u1", "sentences")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Empty(t, rec.LearnedItemIDs)
	assert.Empty(t, rec.ItemProgress)
	assert.False(t, rec.IsFinished)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous callers never reach the store", func(t *testing.T) {
		store := &fakeStore{
			GetFunc: func(context.Context, string, string) error {
				t.Fatal("store must not be called")
				return nil
			},
		}
		rec, err := Load(ctx, store, "", "alphabet")
		require.NoError(t, err)
		assert.Empty(t, rec.LearnedItemIDs)
	})

	t.Run("read failures are typed", func(t *testing.T) {
		store := &fakeStore{
			GetFunc: func(context.Context, string, string) error { return assert.AnError },
		}
		_, err := Load(ctx, store, "u1", "alphabet")
		var readErr *ReadError
		require.ErrorAs(t, err, &readErr)
		assert.Equal(t, "u1", readErr.UserID)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func boolPtr(b bool) *bool { return &b }

func TestPatchEmpty(t *testing.T) {
	assert.True(t, Patch{}.Empty())
	assert.False(t, Patch{AddLearned: []string{"1"}}.Empty())
	assert.False(t, Finished(false).Empty())
}
