package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PODCAST_MODE", "PODCAST_CONFIG_PATH", "PODCAST_DATA_DIR", "VTT_INPUT_DIR",
		"PROCESSED_DIR", "GEMINI_API_KEY", "GEMINI_API_KEY_1", "GEMINI_API_KEY_2",
		"GEMINI_API_KEY_3", "GEMINI_API_KEY_4", "METRICS_INTERVAL_SECONDS",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadDefaultsToSingleMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "key-a")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, cfg.Mode)
	assert.Equal(t, []string{"key-a"}, cfg.GeminiAPIKeys)
}

func TestLoadMultiModeRequiresConfigPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("PODCAST_MODE", "multi")
	t.Setenv("GEMINI_API_KEY", "key-a")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PODCAST_CONFIG_PATH")
}

func TestLoadGeminiKeysEnumeratesUntilGap(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY_1", "key-1")
	t.Setenv("GEMINI_API_KEY_2", "key-2")
	// gap at 3, so a later GEMINI_API_KEY_4 must not be picked up
	t.Setenv("GEMINI_API_KEY_4", "key-4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"key-1", "key-2"}, cfg.GeminiAPIKeys)
}

func TestLoadFailsWithoutAnyKey(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadInvalidModeFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("PODCAST_MODE", "bogus")
	t.Setenv("GEMINI_API_KEY", "key-a")
	_, err := Load()
	require.Error(t, err)
}
