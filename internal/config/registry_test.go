package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRegistry = `
version: "1.0"
podcasts:
  - id: pod-1
    name: "First Podcast"
    enabled: true
    database:
      uri: "bolt://localhost:7687"
      database_name: "pod1db"
  - id: pod-2
    name: "Second Podcast"
    enabled: false
    database:
      uri: "bolt://localhost:7687"
      database_name: "pod2db"
`

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRegistryParsesPodcasts(t *testing.T) {
	path := writeRegistry(t, sampleRegistry)
	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, "1.0", reg.Version)
	require.Len(t, reg.Podcasts, 2)
	assert.Equal(t, "pod1db", reg.Podcasts[0].Database.DatabaseName)
}

func TestLoadRegistryRejectsDuplicateIDs(t *testing.T) {
	path := writeRegistry(t, `
version: "1.0"
podcasts:
  - id: dup
    name: "A"
    enabled: true
    database: { uri: "x", database_name: "y" }
  - id: dup
    name: "B"
    enabled: true
    database: { uri: "x", database_name: "y" }
`)
	_, err := LoadRegistry(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadRegistryRejectsMissingID(t *testing.T) {
	path := writeRegistry(t, `
version: "1.0"
podcasts:
  - name: "No ID"
    enabled: true
    database: { uri: "x", database_name: "y" }
`)
	_, err := LoadRegistry(path)
	require.Error(t, err)
}

func TestEnabledPodcastsSkipsDisabled(t *testing.T) {
	path := writeRegistry(t, sampleRegistry)
	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	enabled := reg.EnabledPodcasts()
	require.Len(t, enabled, 1)
	assert.Equal(t, "pod-1", enabled[0].ID)
}

func TestRegistryRoundTripSerialize(t *testing.T) {
	path := writeRegistry(t, sampleRegistry)
	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	data, err := reg.Serialize()
	require.NoError(t, err)

	path2 := filepath.Join(t.TempDir(), "registry2.yaml")
	require.NoError(t, os.WriteFile(path2, data, 0o644))
	reg2, err := LoadRegistry(path2)
	require.NoError(t, err)

	assert.Equal(t, reg.Podcasts, reg2.Podcasts)
}

func TestDatabaseForLooksUpByPodcastID(t *testing.T) {
	path := writeRegistry(t, sampleRegistry)
	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	name, ok := reg.DatabaseFor("pod-2")
	require.True(t, ok)
	assert.Equal(t, "pod2db", name)

	_, ok = reg.DatabaseFor("unknown")
	assert.False(t, ok)
}
