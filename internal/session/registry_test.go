package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/kartuli/internal/domain"
	"github.com/conorfennell/kartuli/internal/progress"
)

func TestRegistry(t *testing.T) {
	cat := &fakeCatalog{}
	cat.add("words", domain.KindWords, makeCatalog("words", 3))
	r := NewRegistry(newDeps(cat, progress.NewMemoryStore()), time.Minute)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	e := r.Create("u1", "words")
	require.NotEmpty(t, e.ID())

	t.Run("owner can fetch the session", func(t *testing.T) {
		got, err := r.Get(e.ID(), "u1")
		require.NoError(t, err)
		assert.Same(t, e, got)
	})

	t.Run("other users cannot", func(t *testing.T) {
		_, err := r.Get(e.ID(), "u2")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = r.Get(e.ID(), "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("idle sessions expire", func(t *testing.T) {
		other := r.Create("u2", "words")
		now = now.Add(45 * time.Second)
		_, err := r.Get(other.ID(), "u2")
		require.NoError(t, err)

		now = now.Add(30 * time.Second)
		assert.Equal(t, 1, r.Sweep())
		assert.Equal(t, 1, r.Len())

		_, err = r.Get(e.ID(), "u1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = r.Get(other.ID(), "u2")
		assert.NoError(t, err)
	})

	t.Run("remove", func(t *testing.T) {
		s := r.Create("u3", "words")
		r.Remove(s.ID())
		_, err := r.Get(s.ID(), "u3")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("remove course drops only the owner's sessions on it", func(t *testing.T) {
		mine := r.Create("u4", "words")
		other := r.Create("u4", "numbers")
		theirs := r.Create("u5", "words")

		assert.Equal(t, 1, r.RemoveCourse("u4", "words"))

		_, err := r.Get(mine.ID(), "u4")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = r.Get(other.ID(), "u4")
		assert.NoError(t, err)
		_, err = r.Get(theirs.ID(), "u5")
		assert.NoError(t, err)
	})
}

func TestRegistryCleanupLoop(t *testing.T) {
	r := NewRegistry(newDeps(&fakeCatalog{}, progress.NewMemoryStore()), time.Millisecond)
	r.Create("u1", "words")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartCleanup(ctx, 5*time.Millisecond)
	defer r.Stop()

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}
