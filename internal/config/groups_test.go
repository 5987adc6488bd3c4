package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGroupsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groups.yaml")
	content := `
- group_id: mixer.main
  priority: high
  max_events: 200000
- group_id: telemetry.debug
  priority: low
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	entries, err := LoadGroupsFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "mixer.main", entries[0].GroupID)
	assert.Equal(t, "high", entries[0].Priority)
	require.NotNil(t, entries[0].MaxEvents)
	assert.Equal(t, 200000, *entries[0].MaxEvents)

	require.NotNil(t, entries[1].Enabled)
	assert.False(t, *entries[1].Enabled)
}

func TestLoadGroupsFile_MissingFile(t *testing.T) {
	_, err := LoadGroupsFile("/nonexistent/groups.yaml")
	require.Error(t, err)
}

func TestParsePriority(t *testing.T) {
	_, ok := parsePriority("bogus")
	assert.False(t, ok)
	_, ok = parsePriority("high")
	assert.True(t, ok)
}
