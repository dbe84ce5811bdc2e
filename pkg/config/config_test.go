package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnagg/aggregator/pkg/output"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Execution.ConcurrentLimit, cfg.Execution.ConcurrentLimit)
}

func TestLoadOverlaysFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
output:
  dir: ./custom-out
  formats: ["raw", "csv"]
execution:
  concurrent_limit: 12
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "./custom-out", cfg.Output.Dir)
	assert.Equal(t, []string{"raw", "csv"}, cfg.Output.Formats)
	assert.Equal(t, 12, cfg.Execution.ConcurrentLimit)
	// Unset sections still carry their defaults.
	assert.Equal(t, DefaultConfig().Fetch.Timeout, cfg.Fetch.Timeout)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("VPNAGG_TEST_OUTPUT_DIR", "/tmp/expanded-out")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  dir: ${VPNAGG_TEST_OUTPUT_DIR}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/expanded-out", cfg.Output.Dir)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("VPN_CONCURRENT_LIMIT", "7")
	t.Setenv("OUTPUT_DIR", "/tmp/env-out")
	defer os.Unsetenv("VPN_CONCURRENT_LIMIT")
	defer os.Unsetenv("OUTPUT_DIR")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("execution:\n  concurrent_limit: 99\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Execution.ConcurrentLimit)
	assert.Equal(t, "/tmp/env-out", cfg.Output.Dir)
}

func TestSkipNetworkFromCI(t *testing.T) {
	t.Setenv("CI", "true")
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	assert.True(t, cfg.Execution.SkipNetwork)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.Dir = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Execution.ConcurrentLimit = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Fetch.Retries = -1
	assert.Error(t, cfg.Validate())

	assert.NoError(t, DefaultConfig().Validate())
}

func TestResolvedFormatsSingleCombinedString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.Formats = []string{"raw,base64"}
	formats, err := cfg.ResolvedFormats()
	require.NoError(t, err)
	assert.ElementsMatch(t, []output.Format{output.FormatRaw, output.FormatBase64}, formats)
}

func TestResolvedFormatsAll(t *testing.T) {
	cfg := DefaultConfig()
	formats, err := cfg.ResolvedFormats()
	require.NoError(t, err)
	assert.Equal(t, output.AllFormats, formats)
}

func TestSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Output.Dir = "./round-trip-out"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./round-trip-out", loaded.Output.Dir)
}
