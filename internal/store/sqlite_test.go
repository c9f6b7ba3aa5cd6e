package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/clementpoiret/bibli-ls/internal/bibliography"
	"github.com/clementpoiret/bibli-ls/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*store.SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSQLiteStore(t *testing.T) {
	s, dbPath := openStore(t)

	content := []byte("@misc{a, title = {A}}\n@misc{b}")
	records := bibliography.Parse("/ws/refs.bib", content)
	modTime := time.Unix(1700000000, 123)

	t.Run("missing entry", func(t *testing.T) {
		_, err := s.Get("/ws/refs.bib")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, s.Put(store.Entry{
			Path:     "/ws/refs.bib",
			ModTime:  modTime,
			Checksum: store.Checksum(content),
			Records:  records,
		}))
		entry, err := s.Get("/ws/refs.bib")
		require.NoError(t, err)
		assert.True(t, modTime.Equal(entry.ModTime))
		assert.Equal(t, records, entry.Records)
		assert.True(t, entry.Fresh(modTime, content))
		assert.False(t, entry.Fresh(modTime.Add(time.Second), content))
		assert.False(t, entry.Fresh(modTime, []byte("changed")))
	})

	t.Run("put overwrites", func(t *testing.T) {
		require.NoError(t, s.Put(store.Entry{Path: "/ws/refs.bib", ModTime: modTime, Checksum: []byte{1}}))
		entry, err := s.Get("/ws/refs.bib")
		require.NoError(t, err)
		assert.Empty(t, entry.Records)
	})

	t.Run("reopen keeps entries", func(t *testing.T) {
		other, err := store.NewSQLiteStore(dbPath)
		require.NoError(t, err)
		defer other.Close()
		paths, err := other.Paths()
		require.NoError(t, err)
		assert.Equal(t, []string{"/ws/refs.bib"}, paths)
	})

	t.Run("retain and delete", func(t *testing.T) {
		for _, p := range []string{"/ws/a.bib", "/ws/b.bib"} {
			require.NoError(t, s.Put(store.Entry{Path: p, Checksum: []byte{0}}))
		}
		require.NoError(t, s.Retain([]string{"/ws/a.bib", "/ws/b.bib"}))
		paths, _ := s.Paths()
		assert.Equal(t, []string{"/ws/a.bib", "/ws/b.bib"}, paths)

		require.NoError(t, s.Delete("/ws/a.bib"))
		require.NoError(t, s.Delete("/ws/unknown.bib"))
		paths, _ = s.Paths()
		assert.Equal(t, []string{"/ws/b.bib"}, paths)

		require.NoError(t, s.Clear())
		paths, _ = s.Paths()
		assert.Empty(t, paths)
	})

	t.Run("closed", func(t *testing.T) {
		s, _ := openStore(t)
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		_, err := s.Get("x")
		assert.ErrorIs(t, err, store.ErrDatabaseClosed)
		assert.ErrorIs(t, s.Put(store.Entry{Path: "x"}), store.ErrDatabaseClosed)
	})
}
