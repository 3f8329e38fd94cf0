package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterator(t *testing.T) {
	it := NewIterator(makeCatalog("words", 3))

	cur, ok := it.Current()
	require.True(t, ok)
	assert.Equal(t, "1", cur.ID)

	t.Run("advance moves current", func(t *testing.T) {
		changed, err := it.Advance("1", false)
		require.NoError(t, err)
		assert.True(t, changed)

		cur, ok := it.Current()
		require.True(t, ok)
		assert.Equal(t, "2", cur.ID)
	})

	t.Run("advance is idempotent", func(t *testing.T) {
		changed, err := it.Advance("1", true)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, 1, it.Processed())
		assert.Equal(t, 0, it.SessionLearned())
	})

	t.Run("unknown ids are rejected", func(t *testing.T) {
		_, err := it.Advance("42", false)
		assert.ErrorIs(t, err, ErrUnknownItem)
		assert.Equal(t, 1, it.Processed())
	})

	t.Run("items can be processed out of order", func(t *testing.T) {
		_, err := it.Advance("3", true)
		require.NoError(t, err)
		cur, ok := it.Current()
		require.True(t, ok)
		assert.Equal(t, "2", cur.ID)
		assert.False(t, it.IsComplete())
	})

	t.Run("completion stays true", func(t *testing.T) {
		_, err := it.Advance("2", false)
		require.NoError(t, err)
		assert.True(t, it.IsComplete())

		_, _ = it.Advance("2", false)
		_, _ = it.Advance("99", false)
		assert.True(t, it.IsComplete())

		_, ok := it.Current()
		assert.False(t, ok)
		assert.Equal(t, 1, it.SessionLearned())
	})
}

func TestIteratorEmpty(t *testing.T) {
	it := NewIterator(nil)
	assert.True(t, it.IsComplete())
	_, ok := it.Current()
	assert.False(t, ok)
}

func TestIteratorDropsDuplicateIDs(t *testing.T) {
	items := makeCatalog("words", 2)
	items = append(items, items[0])
	it := NewIterator(items)
	assert.Equal(t, 2, it.Total())

	_, _ = it.Advance("1", false)
	_, _ = it.Advance("2", false)
	assert.True(t, it.IsComplete())
}
