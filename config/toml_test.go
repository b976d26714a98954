package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsnet/hls-core/config"
)

func ensureFiles(t *testing.T, rootDir string, files ...string) {
	for _, f := range files {
		p := filepath.Join(rootDir, f)
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
}

func TestEnsureRoot(t *testing.T) {
	require := require.New(t)

	tmpDir := t.TempDir()

	// create root dir
	config.EnsureRoot(tmpDir)

	// make sure config is set properly
	data, err := os.ReadFile(filepath.Join(tmpDir, config.DefaultConfigDir, config.DefaultConfigFileName))
	require.Nil(err)

	assertValidConfig(t, string(data))

	ensureFiles(t, tmpDir, "data")
}

func assertValidConfig(t *testing.T, configFile string) {
	t.Helper()
	// list of words we expect in the config
	var elems = []string{
		"moniker",
		"db_backend",
		"log_level",
		"[header_sync]",
		"max_reorg_depth",
		"seal_check_random_sample_rate",
		"request_timeout",
		"[instrumentation]",
		"prometheus",
	}
	for _, e := range elems {
		assert.Contains(t, configFile, e)
	}
}

func TestWriteAndLoadConfigFile(t *testing.T) {
	rootDir := t.TempDir()
	config.EnsureRoot(rootDir)

	cfg := config.TestConfig().SetRoot(rootDir)
	cfg.Moniker = "roundtrip"
	cfg.HeaderSync.MaxReorgDepth = 10
	cfg.HeaderSync.RequestTimeout = 1500 * time.Millisecond
	cfg.Instrumentation.Prometheus = true

	path := config.ConfigFilePath(rootDir)
	config.WriteConfigFile(path, cfg)

	loaded, err := config.LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip", loaded.Moniker)
	assert.Equal(t, config.DBBackendMemDB, loaded.DBBackend)
	assert.Equal(t, uint64(10), loaded.HeaderSync.MaxReorgDepth)
	assert.Equal(t, 1500*time.Millisecond, loaded.HeaderSync.RequestTimeout)
	assert.Equal(t, 48, loaded.HeaderSync.SealCheckRandomSampleRate)
	assert.True(t, loaded.Instrumentation.Prometheus)
	require.NoError(t, loaded.ValidateBasic())
}

func TestLoadConfigFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.toml")
	require.NoError(t, os.WriteFile(path, []byte("moniker = \"partial\"\n[header_sync]\nmax_headers_fetch = 64\n"), 0o644))

	cfg, err := config.LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "partial", cfg.Moniker)
	assert.Equal(t, 64, cfg.HeaderSync.MaxHeadersFetch)
	assert.Equal(t, 64*8, cfg.HeaderSync.HeaderQueueSize())
	assert.Equal(t, 20*time.Second, cfg.HeaderSync.RequestTimeout)
	assert.Equal(t, 2000, cfg.HeaderSync.MsgQueueSize)

	_, err = config.LoadConfigFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("moniker = \n"), 0o644))
	_, err = config.LoadConfigFile(bad)
	assert.Error(t, err)
}
