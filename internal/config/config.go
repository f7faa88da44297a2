// Package config parses the environment variables and YAML podcast
// registry the core is configured with at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Mode selects single-podcast or multi-podcast operation.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// Config holds every environment-sourced setting the core needs at
// startup. Missing required variables are a Configuration-kind error
// and fail before any episode is processed.
type Config struct {
	Mode            Mode
	ConfigPath      string // PODCAST_CONFIG_PATH, required in multi mode
	DataDir         string // PODCAST_DATA_DIR
	VTTInputDir     string // VTT_INPUT_DIR
	ProcessedDir    string // PROCESSED_DIR
	GeminiAPIKeys   []string
	MetricsInterval int // seconds, defaults to 60
}

// Load reads Config from the process environment.
func Load() (Config, error) {
	cfg := Config{
		Mode:            Mode(envOr("PODCAST_MODE", string(ModeSingle))),
		ConfigPath:      os.Getenv("PODCAST_CONFIG_PATH"),
		DataDir:         envOr("PODCAST_DATA_DIR", "./data"),
		VTTInputDir:     envOr("VTT_INPUT_DIR", "./inbox"),
		ProcessedDir:    envOr("PROCESSED_DIR", "./processed"),
		MetricsInterval: 60,
	}

	if cfg.Mode != ModeSingle && cfg.Mode != ModeMulti {
		return Config{}, fmt.Errorf("config: invalid PODCAST_MODE %q: must be single or multi", cfg.Mode)
	}
	if cfg.Mode == ModeMulti && cfg.ConfigPath == "" {
		return Config{}, fmt.Errorf("config: PODCAST_CONFIG_PATH is required when PODCAST_MODE=multi")
	}

	if v := os.Getenv("METRICS_INTERVAL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid METRICS_INTERVAL_SECONDS %q: %w", v, err)
		}
		cfg.MetricsInterval = n
	}

	cfg.GeminiAPIKeys = loadGeminiKeys()
	if len(cfg.GeminiAPIKeys) == 0 {
		return Config{}, fmt.Errorf("config: no Gemini API key configured (set GEMINI_API_KEY_1.. or GEMINI_API_KEY)")
	}

	return cfg, nil
}

// loadGeminiKeys enumerates GEMINI_API_KEY_1..N, stopping at the first
// gap, falling back to the bare GEMINI_API_KEY when no numbered key is
// present.
func loadGeminiKeys() []string {
	var keys []string
	for i := 1; ; i++ {
		v := os.Getenv(fmt.Sprintf("GEMINI_API_KEY_%d", i))
		if v == "" {
			break
		}
		keys = append(keys, v)
	}
	if len(keys) == 0 {
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			keys = append(keys, v)
		}
	}
	return keys
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
