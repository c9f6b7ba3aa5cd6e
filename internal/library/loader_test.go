package library_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/clementpoiret/bibli-ls/internal/index"
	"github.com/clementpoiret/bibli-ls/internal/library"
	"github.com/clementpoiret/bibli-ls/internal/scheduler"
	"github.com/clementpoiret/bibli-ls/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) notify(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func setup(t *testing.T, cache store.Store) (*library.Loader, *index.Index, *recorder) {
	t.Helper()
	sched := scheduler.NewScheduler(16)
	sched.RunScheduler()
	t.Cleanup(sched.StopScheduler)

	idx := index.New()
	rec := &recorder{}
	return library.New(idx, sched, cache, rec.notify), idx, rec
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func keys(idx *index.Index) []string {
	var out []string
	for _, rec := range idx.Snapshot().All() {
		out = append(out, rec.Key)
	}
	return out
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.bib")
	second := filepath.Join(dir, "second.yml")
	writeFile(t, first, "@book{shared, title = {From BibTeX}}\n@misc{only1}")
	writeFile(t, second, "shared:\n  type: article\n  title: From YAML\nonly2:\n  type: misc\n")

	loader, idx, notes := setup(t, nil)
	require.NoError(t, loader.LoadAll(context.Background(), []string{first, second, first}))

	assert.Equal(t, []string{first, second}, loader.Files())
	assert.True(t, loader.Tracks(second))
	assert.ElementsMatch(t, []string{"shared", "only1", "only2"}, keys(idx))

	rec, ok := idx.Lookup("shared")
	require.True(t, ok)
	assert.Equal(t, second, rec.SourceFile)
	title, _ := rec.Field("title")
	assert.Equal(t, "From YAML", title)
	assert.Zero(t, notes.count())

	t.Run("reconfigure forgets dropped files", func(t *testing.T) {
		require.NoError(t, loader.LoadAll(context.Background(), []string{first}))
		assert.False(t, loader.Tracks(second))
		rec, ok := idx.Lookup("shared")
		require.True(t, ok)
		assert.Equal(t, first, rec.SourceFile)
		_, ok = idx.Lookup("only2")
		assert.False(t, ok)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, loader.LoadAll(ctx, []string{first}), context.Canceled)
	})
}

func TestLoadAllMissingFiles(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "refs.bib")
	writeFile(t, present, "@misc{here}")

	loader, idx, notes := setup(t, nil)
	err := loader.LoadAll(context.Background(), []string{
		filepath.Join(dir, "gone.bib"),
		present,
		filepath.Join(dir, "also-gone.bib"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"here"}, keys(idx))
	// warnings are throttled
	assert.Equal(t, 1, notes.count())
}

func TestApply(t *testing.T) {
	loader, idx, _ := setup(t, nil)
	path := filepath.Join(t.TempDir(), "live.bib")

	text := []byte("@misc{draft}")
	require.NoError(t, loader.Apply(path, &text))
	assert.Equal(t, []string{"draft"}, keys(idx))

	text = []byte("@misc{draft2}")
	require.NoError(t, loader.Apply(path, &text))
	assert.Equal(t, []string{"draft2"}, keys(idx))

	require.NoError(t, loader.Apply(path, nil))
	assert.Empty(t, keys(idx))
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refs.bib")
	writeFile(t, path, "@misc{old}")

	loader, idx, notes := setup(t, nil)
	require.NoError(t, loader.LoadAll(context.Background(), []string{path}))

	writeFile(t, path, "@misc{new}")
	require.NoError(t, loader.Reload(path))
	assert.Equal(t, []string{"new"}, keys(idx))

	require.NoError(t, os.Remove(path))
	require.NoError(t, loader.Reload(path))
	assert.Empty(t, keys(idx))
	assert.Equal(t, 1, notes.count())
}

func TestPoll(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.bib")
	b := filepath.Join(dir, "b.bib")
	writeFile(t, a, "@misc{a1}")

	loader, idx, _ := setup(t, nil)
	require.NoError(t, loader.LoadAll(context.Background(), []string{a, b}))
	assert.Equal(t, []string{"a1"}, keys(idx))

	require.NoError(t, loader.Poll())
	assert.Equal(t, []string{"a1"}, keys(idx))

	writeFile(t, a, "@misc{a1}\n@misc{a2}")
	writeFile(t, b, "@misc{b1}")
	require.NoError(t, loader.Poll())
	assert.ElementsMatch(t, []string{"a1", "a2", "b1"}, keys(idx))

	require.NoError(t, os.Remove(a))
	require.NoError(t, loader.Poll())
	assert.Equal(t, []string{"b1"}, keys(idx))
}

func TestPollSkipsOpenFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refs.bib")
	writeFile(t, path, "@misc{disk}")

	loader, idx, _ := setup(t, nil)
	var mu sync.Mutex
	open := true
	loader.SkipOpen(func(p string) bool {
		mu.Lock()
		defer mu.Unlock()
		return open && p == path
	})
	require.NoError(t, loader.LoadAll(context.Background(), []string{path}))

	live := []byte("@misc{buffer}")
	require.NoError(t, loader.Apply(path, &live))
	writeFile(t, path, "@misc{rewritten, note = {longer}}")

	require.NoError(t, loader.Poll())
	assert.Equal(t, []string{"buffer"}, keys(idx))

	mu.Lock()
	open = false
	mu.Unlock()
	require.NoError(t, loader.Poll())
	assert.Equal(t, []string{"rewritten"}, keys(idx))
}

func TestLoadAllUsesCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refs.bib")
	stale := filepath.Join(dir, "stale.bib")
	writeFile(t, path, "@article{cached, title = {Kept}}")

	cache, err := store.NewSQLiteStore(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	require.NoError(t, cache.Put(store.Entry{Path: stale, Checksum: []byte{0}}))

	loader, idx, _ := setup(t, cache)
	require.NoError(t, loader.LoadAll(context.Background(), []string{path}))

	entry, err := cache.Get(path)
	require.NoError(t, err)
	assert.Equal(t, idx.Snapshot().Records(path), entry.Records)

	paths, err := cache.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)

	again, idx2, _ := setup(t, cache)
	require.NoError(t, again.LoadAll(context.Background(), []string{path}))
	rec, ok := idx2.Lookup("cached")
	require.True(t, ok)
	title, _ := rec.Field("title")
	assert.Equal(t, "Kept", title)
}
