// Package config handles YAML configuration loading and environment
// variable expansion for kioku. The configuration is read once at process
// start and passed to components as a value; nothing re-reads the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// DBPath is the SQLite database file path.
	DBPath string `yaml:"db_path"`

	// PoolMinSize / PoolMaxSize bound the connection pool.
	PoolMinSize int `yaml:"pool_min_size"`
	PoolMaxSize int `yaml:"pool_max_size"`

	// EmbeddingModel is the model identifier sent to the embedding service.
	EmbeddingModel string `yaml:"embedding_model"`

	// EmbeddingAPIURL is the base URL of the embedding service.
	EmbeddingAPIURL string `yaml:"embedding_api_url"`

	// VectorWeight / TextWeight are the default hybrid search proportions.
	// They need not sum to 1.
	VectorWeight float64 `yaml:"vector_weight"`
	TextWeight   float64 `yaml:"text_weight"`

	// HalfLifeDays parameterizes the time decay used in scored search.
	HalfLifeDays float64 `yaml:"half_life_days"`

	// FuzzyMaxDistanceRatio is the edit-distance ratio cutoff for fuzzy
	// search: distance/len(token) above this is not a match.
	FuzzyMaxDistanceRatio float64 `yaml:"fuzzy_max_distance_ratio"`

	// Oversample multiplies n_results when fetching candidate pools for
	// fusion and re-ranking.
	Oversample int `yaml:"oversample"`

	// Re-ranking weights for search_with_scoring.
	RecencyWeight    float64 `yaml:"recency_weight"`
	EmotionWeight    float64 `yaml:"emotion_weight"`
	ImportanceWeight float64 `yaml:"importance_weight"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DBPath:                home + "/.kioku/memory.db",
		PoolMinSize:           1,
		PoolMaxSize:           5,
		EmbeddingModel:        "intfloat/multilingual-e5-base",
		EmbeddingAPIURL:       "http://localhost:8100",
		VectorWeight:          0.7,
		TextWeight:            0.3,
		HalfLifeDays:          30.0,
		FuzzyMaxDistanceRatio: 0.34,
		Oversample:            3,
		RecencyWeight:         0.3,
		EmotionWeight:         0.2,
		ImportanceWeight:      0.2,
	}
}

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML configuration file, expands environment variables,
// and parses it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return cfg, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks structural constraints on the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	if c.PoolMinSize < 0 || c.PoolMaxSize < 1 || c.PoolMinSize > c.PoolMaxSize {
		errs = append(errs, fmt.Errorf("invalid pool bounds min=%d max=%d", c.PoolMinSize, c.PoolMaxSize))
	}
	if c.HalfLifeDays <= 0 {
		errs = append(errs, fmt.Errorf("half_life_days must be positive, got %v", c.HalfLifeDays))
	}
	if c.FuzzyMaxDistanceRatio <= 0 || c.FuzzyMaxDistanceRatio >= 1 {
		errs = append(errs, fmt.Errorf("fuzzy_max_distance_ratio must be in (0,1), got %v", c.FuzzyMaxDistanceRatio))
	}
	if c.Oversample < 1 {
		errs = append(errs, fmt.Errorf("oversample must be >= 1, got %d", c.Oversample))
	}
	return errors.Join(errs...)
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil
		defaultVal := ""
		if hasDefault {
			defaultVal = string(subs[2])
		}

		value, ok := os.LookupEnv(name)
		if ok {
			return []byte(value)
		}

		if hasDefault {
			return []byte(defaultVal)
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
