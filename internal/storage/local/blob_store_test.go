package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-search-scraper/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "snapshots", "nested")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("WritesSnapshot", func(t *testing.T) {
		path := "snapshots/2024/05/01/rec-1.html"
		uri, err := store.PutObject(ctx, path, "text/html", strings.NewReader("<html>ok</html>"))
		require.NoError(t, err)

		full := filepath.Join(tempDir, filepath.FromSlash(path))
		assert.Equal(t, "file://"+filepath.ToSlash(full), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(full)
		require.NoError(t, err)
		assert.Equal(t, "<html>ok</html>", string(got))

		entries, err := os.ReadDir(filepath.Dir(full))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp files must not be left behind")
	})

	t.Run("Overwrites", func(t *testing.T) {
		_, err := store.PutObject(ctx, "same.html", "text/html", strings.NewReader("one"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "same.html", "text/html", strings.NewReader("two"))
		require.NoError(t, err)
		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(tempDir, "same.html"))
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/html", strings.NewReader("data"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.html", "text/html", strings.NewReader("data"))
		assert.Error(t, err)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.PutObject(canceled, "late.html", "text/html", strings.NewReader("data"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
