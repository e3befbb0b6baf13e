package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxkeeper/ctxkeeper/internal/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadOverlaysFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctxkeeper.toml")
	contents := `
[database]
path = "/var/lib/ctxkeeper/custom.db"
max_size_bytes = 1073741824

[watcher]
default_timeout_secs = 45
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ctxkeeper/custom.db", cfg.Database.Path)
	assert.Equal(t, int64(1073741824), cfg.Database.MaxSizeBytes)
	assert.Equal(t, 45, cfg.Watcher.DefaultTimeoutSecs)
	// Fields absent from the file keep their default values.
	assert.Equal(t, config.Default().Database.QueryTimeoutSecs, cfg.Database.QueryTimeoutSecs)
	assert.Equal(t, config.Default().Watcher.MaxTimeoutSecs, cfg.Watcher.MaxTimeoutSecs)
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid toml"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestTimeoutHelpersConvertSecondsToDuration(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout())
	assert.Equal(t, 30*time.Second, cfg.DefaultWatcherTimeout())
	assert.Equal(t, 120*time.Second, cfg.MaxWatcherTimeout())
}
