package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, warnings, err := Load("", false)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "eventcached", cfg.App.Name)
	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, 100_000, cfg.EventCache.MaxEvents)
	assert.Equal(t, int64(500), cfg.EventCache.GlobalMemoryLimitMB)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eventcached.yaml")
	content := `
app:
  name: my-eventcache
  environment: test
event_cache:
  max_events: 5000
  global_memory_limit_mb: 64
  skip_validation: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, _, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, "my-eventcache", cfg.App.Name)
	assert.Equal(t, 5000, cfg.EventCache.MaxEvents)
	assert.Equal(t, int64(64), cfg.EventCache.GlobalMemoryLimitMB)
}

func TestLoad_InvalidConfigFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eventcached.yaml")
	content := `
event_cache:
  global_memory_limit_mb: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, _, err := Load(path, false)
	require.Error(t, err)
}

func TestLoad_TestEnvironmentSkipsValidationUnlessForced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eventcached.yaml")
	content := `
app:
  environment: test
event_cache:
  global_memory_limit_mb: 1
  skip_validation: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, _, err := Load(path, false)
	require.NoError(t, err)

	_, _, err = Load(path, true)
	require.Error(t, err)
}

func TestConfig_EnvironmentPredicates(t *testing.T) {
	cfg := &Config{App: AppConfig{Environment: "development"}}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.IsTest())
}
