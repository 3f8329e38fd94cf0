package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/kartuli/internal/storage"
)

func setup(t *testing.T) (*storage.DB, string) {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, filepath.Join(t.TempDir(), "kartuli.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, t.TempDir()
}

func writeDeck(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const numbersDeck = `@course numbers
@title Numbers
@order 2
---
id: 1
number: 1
georgian: ერთი
---
id: 2
number: 2
georgian: ორი
`

func TestRunSyncReconciles(t *testing.T) {
	ctx := context.Background()
	db, dir := setup(t)

	writeDeck(t, dir, "numbers.deck", numbersDeck)
	writeDeck(t, dir, "README.md", "not a deck")
	_, err := AddSource(ctx, db, dir)
	require.NoError(t, err)

	t.Run("first run inserts everything", func(t *testing.T) {
		rep, err := RunSync(ctx, db, Options{})
		require.NoError(t, err)
		require.Len(t, rep.Sources, 1)
		s := rep.Sources[0]
		assert.Empty(t, s.Errors)
		assert.Equal(t, 1, s.Courses)
		assert.Equal(t, 2, s.Inserted)
		assert.True(t, rep.Changed())

		items, err := db.ListItems(ctx, "numbers")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "ერთი", items[0].Field("georgian"))
		assert.NotEmpty(t, items[0].Hash)
	})

	t.Run("second run changes nothing", func(t *testing.T) {
		rep, err := RunSync(ctx, db, Options{})
		require.NoError(t, err)
		s := rep.Sources[0]
		assert.Equal(t, 2, s.Unchanged)
		assert.False(t, rep.Changed())
	})

	t.Run("edits update in place and removals delete", func(t *testing.T) {
		writeDeck(t, dir, "numbers.deck", `@course numbers
---
id: 1
number: 1
georgian: ერთი!
---
id: 3
number: 3
georgian: სამი
`)
		rep, err := RunSync(ctx, db, Options{})
		require.NoError(t, err)
		s := rep.Sources[0]
		assert.Empty(t, s.Errors)
		assert.Equal(t, 1, s.Updated)
		assert.Equal(t, 1, s.Inserted)
		assert.Equal(t, 1, s.Deleted)

		items, err := db.ListItems(ctx, "numbers")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "ერთი!", items[0].Field("georgian"))
		assert.Equal(t, "3", items[1].ID)
	})

	t.Run("removed deck deletes its course", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dir, "numbers.deck")))
		rep, err := RunSync(ctx, db, Options{})
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Sources[0].CoursesDeleted)

		c, err := db.GetCourse(ctx, "numbers")
		require.NoError(t, err)
		assert.Nil(t, c)
	})
}

func TestRunSyncKeepsItemsWhenADeckFailsToParse(t *testing.T) {
	ctx := context.Background()
	db, dir := setup(t)

	writeDeck(t, dir, "numbers.deck", numbersDeck)
	_, err := AddSource(ctx, db, dir)
	require.NoError(t, err)
	_, err = RunSync(ctx, db, Options{})
	require.NoError(t, err)

	writeDeck(t, dir, "numbers.deck", "@course numbers\nid: 1\n---\nid: 1\n")
	rep, err := RunSync(ctx, db, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed())
	assert.Equal(t, 0, rep.Sources[0].Deleted)

	items, err := db.ListItems(ctx, "numbers")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRunSyncReportsBrokenGitSource(t *testing.T) {
	ctx := context.Background()
	db, dir := setup(t)

	_, err := db.InsertSource(ctx, "https://invalid.invalid/nobody/decks.git", storage.SourceGit)
	require.NoError(t, err)
	writeDeck(t, dir, "numbers.deck", numbersDeck)
	_, err = AddSource(ctx, db, dir)
	require.NoError(t, err)

	rep, err := RunSync(ctx, db, Options{ReposDir: t.TempDir(), Concurrency: 2})
	require.NoError(t, err)
	require.Len(t, rep.Sources, 2)
	assert.NotEmpty(t, rep.Sources[0].Errors)
	assert.Empty(t, rep.Sources[1].Errors)
	assert.Equal(t, 2, rep.Sources[1].Inserted)
}

func TestRunSyncWithoutSources(t *testing.T) {
	db, _ := setup(t)
	rep, err := RunSync(context.Background(), db, Options{})
	require.NoError(t, err)
	assert.Empty(t, rep.Sources)
}

func TestAddSource(t *testing.T) {
	ctx := context.Background()
	db, dir := setup(t)

	s, err := AddSource(ctx, db, dir)
	require.NoError(t, err)
	assert.Equal(t, storage.SourceLocal, s.Type)

	again, err := AddSource(ctx, db, dir)
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)

	g, err := AddSource(ctx, db, "git@github.com:someone/decks.git")
	require.NoError(t, err)
	assert.Equal(t, storage.SourceGit, g.Type)

	_, err = AddSource(ctx, db, filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrInvalidPath)

	writeDeck(t, dir, "file.deck", "@course x\n")
	_, err = AddSource(ctx, db, filepath.Join(dir, "file.deck"))
	assert.ErrorIs(t, err, ErrInvalidPath)
}
