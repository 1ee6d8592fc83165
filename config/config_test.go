package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the lookup paths at empty directories.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("ZDP_STORAGE_BACKEND", "memory")
	t.Setenv("ZDP_NOTIFY_PROVIDER", "desktop, Brevo")
	t.Setenv("ZDP_ZENDESK_USER_ID", "12")
	t.Setenv("ZDP_ZENDESK_TIMEOUT", "5s")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, []string{ProviderDesktop, ProviderBrevo}, cfg.Notify.Provider)
	assert.Equal(t, int64(12), cfg.Zendesk.UserID)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[zendesk]
domain = "acme"
view_id = 7

[launch]
mode = "clipboard"
`), 0o600))

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "clipboard", cfg.Launch.Mode)

	s := cfg.SettingsDefaults()
	assert.Equal(t, "acme", s.ZendeskDomain)
	require.NotNil(t, s.ViewID)
	assert.Equal(t, int64(7), *s.ViewID)
	assert.Nil(t, s.UserID)
	assert.Equal(t, 5, s.PollInterval)
}

func TestLoadFromHomeDir(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, Dir), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, Dir, "config.toml"), []byte("[server]\nport = \"9090\"\n"), 0o600))

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"backend", map[string]string{"ZDP_STORAGE_BACKEND": "floppy"}, `storage.backend "floppy"`},
		{"bucket", map[string]string{"ZDP_STORAGE_BACKEND": "gcs"}, "storage.bucket is required"},
		{"provider", map[string]string{"ZDP_NOTIFY_PROVIDER": "pager"}, `notify.provider "pager"`},
		{"mode", map[string]string{"ZDP_LAUNCH_MODE": "telepathy"}, `launch.mode "telepathy"`},
		{"timeout", map[string]string{"ZDP_ZENDESK_TIMEOUT": "soon"}, "zendesk.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(viper.New(), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	dir := isolate(t)
	_, err := Load(viper.New(), filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.toml")

	require.NoError(t, WriteDefault(path, false))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)

	err = WriteDefault(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	require.NoError(t, WriteDefault(path, true))
}
