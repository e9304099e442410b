// ABOUTME: Tests for config loading, env overrides and persistence
// ABOUTME: Uses temp dirs and t.Setenv for isolation
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, SinkHTTP, cfg.Sink)
	assert.Equal(t, 3*time.Second, cfg.GraceDelay.Duration)
	assert.Equal(t, 30*time.Second, cfg.SubmitTimeout.Duration)
	assert.Equal(t, 10*time.Second, cfg.Location.Timeout.Duration)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg := Default()
	cfg.Server = "https://field.example.com"
	cfg.TenantID = "tenant-1"
	cfg.SyncInterval = Duration{2 * time.Minute}
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sync_interval": "2m0s"`)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://field.example.com", loaded.Server)
	assert.Equal(t, 2*time.Minute, loaded.SyncInterval.Duration)
	assert.Equal(t, "https://field.example.com/health", loaded.HealthCheckURL())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIELDSYNC_SINK", "charm")
	t.Setenv("FIELDSYNC_SERVER", "https://env.example.com")
	t.Setenv("FIELDSYNC_SUBMIT_TIMEOUT", "5s")
	t.Setenv("FIELDSYNC_CHARM_AUTO_SYNC", "true")
	t.Setenv("FIELDSYNC_LOCATION", "none")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, SinkCharm, cfg.Sink)
	assert.Equal(t, "https://env.example.com", cfg.Server)
	assert.Equal(t, 5*time.Second, cfg.SubmitTimeout.Duration)
	assert.True(t, cfg.CharmAutoSync)
	assert.Equal(t, LocationNone, cfg.Location.Provider)
}

func TestInvalidValuesRejected(t *testing.T) {
	dir := t.TempDir()

	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("FIELDSYNC_SUBMIT_TIMEOUT", "soon")
		_, err := Load(filepath.Join(dir, "missing.json"))
		assert.Error(t, err)
	})

	t.Run("unknown sink", func(t *testing.T) {
		path := filepath.Join(dir, "sink.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"sink":"carrier-pigeon"}`), 0600))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("numeric duration", func(t *testing.T) {
		path := filepath.Join(dir, "dur.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"grace_delay":3}`), 0600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FIELDSYNC_TEST_ONLY=from-dotenv\n"), 0600))
	t.Setenv("FIELDSYNC_TEST_ONLY", "")
	require.NoError(t, os.Unsetenv("FIELDSYNC_TEST_ONLY"))

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "from-dotenv", os.Getenv("FIELDSYNC_TEST_ONLY"))

	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestParseLevelAndLogger(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, lvl)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)

	var buf bytes.Buffer
	logger := NewLogger(&buf, "error")
	logger.Info("hidden")
	logger.Error("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "k=v")
}
