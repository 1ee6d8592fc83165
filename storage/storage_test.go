package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	local, err := NewLocal(filepath.Join(t.TempDir(), "data"), discardLogger())
	require.NoError(t, err)

	lite, err := NewSQLite(filepath.Join(t.TempDir(), "kv.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })

	return map[string]Backend{
		"local":  local,
		"memory": NewMemory(),
		"sqlite": lite,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(backend, discardLogger())

			var missing []int64
			err := s.Load(ctx, "starred", &missing)
			assert.True(t, IsNotFound(err), "missing key should be not found, got %v", err)

			require.NoError(t, s.Save(ctx, "starred", []int64{3, 1, 2}))
			require.NoError(t, s.Save(ctx, "notifySeen", map[string][]int64{"10": {1}}))

			var starred []int64
			require.NoError(t, s.Load(ctx, "starred", &starred))
			assert.Equal(t, []int64{3, 1, 2}, starred)

			// Last write wins.
			require.NoError(t, s.Save(ctx, "starred", []int64{9}))
			require.NoError(t, s.Load(ctx, "starred", &starred))
			assert.Equal(t, []int64{9}, starred)

			keys, err := s.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"notifySeen", "starred"}, keys)

			require.NoError(t, s.Delete(ctx, "starred"))
			require.NoError(t, s.Delete(ctx, "starred"), "deleting twice is fine")
			assert.True(t, IsNotFound(s.Load(ctx, "starred", &starred)))
		})
	}
}

func TestInvalidKeysRejected(t *testing.T) {
	s := New(NewMemory(), discardLogger())
	ctx := context.Background()

	for _, key := range []string{"", "../etc/passwd", "a/b", "has space"} {
		assert.Error(t, s.Save(ctx, key, 1), "key %q", key)
		var v int
		assert.Error(t, s.Load(ctx, key, &v), "key %q", key)
	}
}

func TestLocalIgnoresTempFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir, discardLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".settings-123.tmp"), []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, l.Put(context.Background(), "settings", []byte(`{"pollInterval":5}`)))

	keys, err := l.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"settings"}, keys)

	info, err := os.Stat(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestGCSObjectNames(t *testing.T) {
	assert.Equal(t, "kv-notifySeen.json", objectName("notifySeen"))

	key, ok := keyName("kv-settings.json")
	assert.True(t, ok)
	assert.Equal(t, "settings", key)

	for _, name := range []string{"settings.json", "kv-settings.txt", "media/kv-x.json"} {
		_, ok := keyName(name)
		assert.False(t, ok, name)
	}
}
