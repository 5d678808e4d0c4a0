package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Batch.MaxConcurrentSites)
	assert.Equal(t, 45, cfg.Scrape.TimeoutSecs)
	assert.Equal(t, int64(4<<20), cfg.Scrape.MaxBodyBytes)
	assert.Equal(t, 30, cfg.Pipeline.CacheTTLDays)
	assert.Equal(t, 24000, cfg.Pipeline.ContentMaxChars)
	assert.Equal(t, 4, cfg.Pipeline.ScenarioCount)
	assert.Equal(t, 24, cfg.Pipeline.WordDelayMs)
	assert.Equal(t, 400, cfg.Pipeline.CardDelayMs)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "gemini-2.5-flash-image", cfg.ImageGen.Model)
	assert.Equal(t, 24, cfg.Jobs.TTLHours)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: intel.db
log:
  level: debug
  format: console
pipeline:
  cache_ttl_days: 7
  scenario_count: 6
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "intel.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 7, cfg.Pipeline.CacheTTLDays)
	assert.Equal(t, 6, cfg.Pipeline.ScenarioCount)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Untouched settings keep their defaults.
	assert.Equal(t, 24000, cfg.Pipeline.ContentMaxChars)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")

	cfg.Anthropic.Key = "sk-test"
	err = cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")

	cfg.Store.DatabaseURL = "postgres://localhost/intel"
	assert.NoError(t, cfg.Validate("pipeline"))

	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
