// Package config loads CLI and service settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/avadhan/core"
)

// Environment variables read by Load.
const (
	EnvRegime       = "AVADHAN_REGIME"
	EnvAddr         = "AVADHAN_ADDR"
	EnvAPIKey       = "ANTHROPIC_API_KEY"
	EnvSummaryModel = "AVADHAN_SUMMARY_MODEL"
)

// Config is the top-level configuration file.
type Config struct {
	Engine  core.Config   `yaml:"engine"`
	Server  ServerConfig  `yaml:"server"`
	Memory  MemoryConfig  `yaml:"memory"`
	Summary SummaryConfig `yaml:"summary"`
}

// ServerConfig configures the event stream server.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// ArchiveSize is how many removed projects keep their final snapshot.
	ArchiveSize int `yaml:"archive_size"`
}

// MemoryConfig configures gist retention and recall.
type MemoryConfig struct {
	GistTTL       time.Duration `yaml:"gist_ttl"`
	MinSimilarity float64       `yaml:"min_similarity"`
	MaxResults    int           `yaml:"max_results"`
	CacheVectors  int           `yaml:"cache_vectors"`
}

// SummaryConfig configures gist summaries. Without an API key the template
// summarizer is used.
type SummaryConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"-"`
}

// Default returns the Ashta preset with local server settings.
func Default() Config {
	return Config{
		Engine: core.DefaultConfig(core.RegimeAshta),
		Server: ServerConfig{
			Addr:        ":8080",
			ArchiveSize: 32,
		},
		Memory: MemoryConfig{
			MinSimilarity: 0.2,
			MaxResults:    10,
			CacheVectors:  4096,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies .env and
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		var head struct {
			Engine struct {
				Regime core.Regime `yaml:"regime"`
			} `yaml:"engine"`
		}
		if err := yaml.Unmarshal(data, &head); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
		if head.Engine.Regime != "" {
			cfg.Engine = core.DefaultConfig(head.Engine.Regime)
			cfg.Engine.Regime = head.Engine.Regime
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	cfg = applyEnv(cfg)

	cfg.Engine = cfg.Engine.WithDefaults()
	if err := cfg.Engine.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg Config) Config {
	if v := os.Getenv(EnvRegime); v != "" {
		if regime := core.Regime(v); regime != cfg.Engine.Regime {
			cfg.Engine = cfg.Engine.WithRegime(regime)
		}
	}
	if v := os.Getenv(EnvAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Summary.APIKey = v
	}
	if v := os.Getenv(EnvSummaryModel); v != "" {
		cfg.Summary.Model = v
	}
	return cfg
}
