package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// RegistryDatabase is one podcast's logical graph database binding.
type RegistryDatabase struct {
	URI          string `yaml:"uri"`
	DatabaseName string `yaml:"database_name"`
}

// RegistryPodcast is one entry of the YAML podcast registry.
type RegistryPodcast struct {
	ID       string           `yaml:"id"`
	Name     string           `yaml:"name"`
	Enabled  bool             `yaml:"enabled"`
	Database RegistryDatabase `yaml:"database"`
}

// Registry is the parsed podcast registry document.
type Registry struct {
	Version  string            `yaml:"version"`
	Podcasts []RegistryPodcast `yaml:"podcasts"`
}

// LoadRegistry parses the YAML podcast registry at path. A read error,
// parse error, missing id, or duplicate id is returned as a plain
// wrapped error naming the registry path; it carries no error kind.
func LoadRegistry(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, fmt.Errorf("config: read podcast registry %s: %w", path, err)
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return Registry{}, fmt.Errorf("config: parse podcast registry %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(reg.Podcasts))
	for _, p := range reg.Podcasts {
		if p.ID == "" {
			return Registry{}, fmt.Errorf("config: podcast registry %s: entry %q missing id", path, p.Name)
		}
		if _, dup := seen[p.ID]; dup {
			return Registry{}, fmt.Errorf("config: podcast registry %s: duplicate podcast id %q", path, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return reg, nil
}

// Serialize round-trips a Registry back to YAML bytes, used by the
// load→serialize→load testable property .
func (r Registry) Serialize() ([]byte, error) {
	return yaml.Marshal(r)
}

// EnabledPodcasts converts the registry's entries to episode.Podcast
// records, skipping disabled podcasts.
func (r Registry) EnabledPodcasts() []episode.Podcast {
	out := make([]episode.Podcast, 0, len(r.Podcasts))
	for _, p := range r.Podcasts {
		if !p.Enabled {
			continue
		}
		out = append(out, episode.Podcast{
			ID:           p.ID,
			Name:         p.Name,
			Enabled:      p.Enabled,
			DatabaseURI:  p.Database.URI,
			DatabaseName: p.Database.DatabaseName,
		})
	}
	return out
}

// DatabaseFor returns the configured database name for podcastID.
func (r Registry) DatabaseFor(podcastID string) (string, bool) {
	for _, p := range r.Podcasts {
		if p.ID == podcastID {
			return p.Database.DatabaseName, true
		}
	}
	return "", false
}
