package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clementpoiret/bibli-ls/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := config.Load(nil)
		require.NoError(t, err)
		assert.Equal(t, "@", cfg.CitePrefix)
		assert.Equal(t, 400, cfg.Hover.CharacterLimit)
		assert.Equal(t, 2*time.Second, cfg.PollInterval.Std())
		assert.True(t, cfg.Cache)
	})

	t.Run("overlay keeps unset fields", func(t *testing.T) {
		cfg, err := config.Load(map[string]any{
			"cite_prefix":   "\\cite{",
			"bibfiles":      []string{"refs.bib"},
			"completion":    map[string]any{"max_items": 20},
			"poll_interval": "500ms",
		})
		require.NoError(t, err)
		assert.Equal(t, "\\cite{", cfg.CitePrefix)
		assert.Equal(t, []string{"refs.bib"}, cfg.Bibfiles)
		assert.Equal(t, 20, cfg.Completion.MaxItems)
		assert.NotEmpty(t, cfg.Completion.DocFormat)
		assert.Equal(t, 500*time.Millisecond, cfg.PollInterval.Std())
	})

	t.Run("invalid value", func(t *testing.T) {
		_, err := config.Load(map[string]any{"poll_interval": "soon"})
		assert.Error(t, err)
	})

	t.Run("overlay does not alias defaults", func(t *testing.T) {
		cfg := config.Default()
		cfg.FileExtensions[0] = ".changed"
		assert.Equal(t, ".md", config.Default().FileExtensions[0])
	})
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := config.LoadFromJSON(strings.NewReader(`{"root": "/tmp/ws", "lenient": true}`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ws", cfg.Root)
	assert.True(t, cfg.Lenient)
	assert.Equal(t, "@", cfg.CitePrefix)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
bibfiles = ["refs.bib", "more.yml"]
cite_prefix = "@"

[hover]
character_limit = 50
doc_format = ["{title}"]
`), 0o644))

	cfg, err := config.Default().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"refs.bib", "more.yml"}, cfg.Bibfiles)
	assert.Equal(t, 50, cfg.Hover.CharacterLimit)
	assert.Equal(t, []string{"{title}"}, cfg.Hover.DocFormat)
	assert.Len(t, cfg.Completion.DocFormat, 3)

	_, err = config.Default().LoadFile(filepath.Join(dir, "missing.toml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, os.WriteFile(path, []byte("bibfiles = ["), 0o644))
	cfg, err = config.Default().LoadFile(path)
	assert.Error(t, err)
	assert.Equal(t, "@", cfg.CitePrefix)
}

func TestFromSettings(t *testing.T) {
	nested := config.FromSettings([]byte(`{"bibli": {"cite_prefix": "#"}, "other": 1}`))
	cfg, err := config.Load(nested)
	require.NoError(t, err)
	assert.Equal(t, "#", cfg.CitePrefix)

	flat := config.FromSettings([]byte(`{"lenient": true}`))
	cfg, err = config.Load(flat)
	require.NoError(t, err)
	assert.True(t, cfg.Lenient)

	assert.Nil(t, config.FromSettings([]byte(`null`)))
	assert.Nil(t, config.FromSettings([]byte(`{broken`)))
}
