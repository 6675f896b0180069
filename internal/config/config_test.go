package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesOriginalDefaults(t *testing.T) {
	d := DefaultConfig()
	require.Equal(t, "dummy", d.Engine)
	require.Equal(t, 50051, d.Port)
	require.Equal(t, 9300, d.MetricsPort)
	require.Equal(t, "node-local", d.NodeID)
	require.Equal(t, "redis://localhost:6379/0", d.PrefixCacheURL)
}

func TestLoadWithNoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "dummy", cfg.Engine)
	require.Equal(t, 8, cfg.Tunables.BatchInterval)
}

func TestLoadEnvOverridesPrefixCacheURLViaRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://custom:6379/1")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "redis://custom:6379/1", cfg.PrefixCacheURL)
}

func TestLoadEnvOverridesPrimerlPrefixedVars(t *testing.T) {
	t.Setenv("PRIMERL_NODE_ID", "gpu-7")
	t.Setenv("PRIMERL_PORT", "60000")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "gpu-7", cfg.NodeID)
	require.Equal(t, 60000, cfg.Port)
}

func TestLoadFromTOMLFileSetsTunables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primerl.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[tunables]
batch_interval_ms = 16
max_batch = 64
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Tunables.BatchInterval)
	require.Equal(t, 64, cfg.Tunables.MaxBatch)
}

func TestGetReturnsDefaultBeforeAnyLoad(t *testing.T) {
	current.Store(nil)
	cfg := Get()
	require.Equal(t, "dummy", cfg.Engine)
}

func TestHotReloadUpdatesTunablesWithoutRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primerl.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[tunables]
batch_interval_ms = 8
`), 0o600))

	_, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, Get().Tunables.BatchInterval)

	require.NoError(t, os.WriteFile(path, []byte(`
[tunables]
batch_interval_ms = 32
`), 0o600))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if Get().Tunables.BatchInterval == 32 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("tunables were not hot-reloaded within the deadline")
}
