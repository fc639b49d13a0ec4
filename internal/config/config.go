// Package config loads docsearch settings from defaults, an optional TOML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Environment variables
const (
	EnvConfig        = "DOCSEARCH_CONFIG"
	EnvDBPath        = "DOCSEARCH_DB_PATH"
	EnvLogLevel      = "DOCSEARCH_LOG_LEVEL"
	EnvProvider      = "DOCSEARCH_EMBEDDING_PROVIDER"
	EnvModel         = "DOCSEARCH_EMBEDDING_MODEL"
	EnvRerank        = "DOCSEARCH_RERANK"
	EnvMaxConcurrent = "DOCSEARCH_MAX_CONCURRENT"
	EnvVoyageAPIKey  = "VOYAGE_API_KEY"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration written as a string such as "30s"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete application configuration
type Config struct {
	DBPath   string `toml:"db_path"`
	LogLevel string `toml:"log_level"`

	Embedding EmbeddingConfig `toml:"embedding"`
	Reranker  RerankerConfig  `toml:"reranker"`
	Search    SearchConfig    `toml:"search"`
	Limits    LimitsConfig    `toml:"limits"`
	Index     IndexConfig     `toml:"index"`
}

// EmbeddingConfig selects and tunes the embedding provider
type EmbeddingConfig struct {
	Provider       string   `toml:"provider"` // voyage, jina, openai, local; empty detects from API keys
	APIKey         string   `toml:"api_key"`
	Model          string   `toml:"model"`
	BaseURL        string   `toml:"base_url"`
	Dimension      int      `toml:"dimension"`
	BatchSize      int      `toml:"batch_size"`
	CacheSize      int      `toml:"cache_size"`
	MaxInputTokens int      `toml:"max_input_tokens"`
	MaxRetries     int      `toml:"max_retries"`
	Timeout        Duration `toml:"timeout"`
}

// RerankerConfig configures the optional cross-encoder pass
type RerankerConfig struct {
	Enabled  bool     `toml:"enabled"`
	APIKey   string   `toml:"api_key"`
	Model    string   `toml:"model"`
	URL      string   `toml:"url"`
	Weight   float64  `toml:"weight"`
	TopK     int      `toml:"top_k"`
	MaxChars int      `toml:"max_chars"`
	Timeout  Duration `toml:"timeout"`
}

// SearchConfig holds fusion, expansion and cache tunables
type SearchConfig struct {
	DefaultLimit  int                `toml:"default_limit"`
	RRFK          int                `toml:"rrf_k"`
	VectorWeight  float64            `toml:"vector_weight"`
	KeywordWeight float64            `toml:"keyword_weight"`
	BothBoost     float64            `toml:"both_boost"`
	VariantWeight float64            `toml:"variant_weight"`
	CategoryBoost map[string]float64 `toml:"category_boost"`
	Expansion     bool               `toml:"expansion"`
	MaxQueries    int                `toml:"max_queries"`
	MMRFetchK     int                `toml:"mmr_fetch_k"`
	MMRLambda     float64            `toml:"mmr_lambda"`
	CacheSize     int                `toml:"cache_size"`
	CacheTTL      Duration           `toml:"cache_ttl"`
}

// LimitsConfig bounds outbound provider traffic for the whole process
type LimitsConfig struct {
	MaxConcurrent     int     `toml:"max_concurrent"`
	RequestsPerSecond float64 `toml:"requests_per_second"` // 0 disables the rate limit
	Burst             int     `toml:"burst"`
}

// IndexConfig tunes indexing runs
type IndexConfig struct {
	Workers             int      `toml:"workers"`
	DegradedZeroVectors bool     `toml:"degraded_zero_vectors"`
	Extensions          []string `toml:"extensions"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DBPath:   filepath.Join("~", ".docsearch", "docsearch.db"),
		LogLevel: "info",
		Embedding: EmbeddingConfig{
			BatchSize:  50,
			CacheSize:  10000,
			MaxRetries: 3,
			Timeout:    Duration{30 * time.Second},
		},
		Reranker: RerankerConfig{
			Weight:   0.7,
			TopK:     20,
			MaxChars: 1000,
			Timeout:  Duration{30 * time.Second},
		},
		Search: SearchConfig{
			DefaultLimit:  10,
			RRFK:          60,
			VectorWeight:  0.5,
			KeywordWeight: 0.5,
			BothBoost:     1.2,
			VariantWeight: 0.5,
			CategoryBoost: map[string]float64{"meta": 0.8},
			Expansion:     true,
			MaxQueries:    5,
			MMRFetchK:     20,
			MMRLambda:     0.5,
			CacheSize:     1000,
			CacheTTL:      Duration{time.Hour},
		},
		Limits: LimitsConfig{
			MaxConcurrent: 4,
		},
	}
}

// DefaultPath returns ~/.docsearch/config.toml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".docsearch", "config.toml"), nil
}

// Load reads configuration from path, or from DOCSEARCH_CONFIG and then the
// default path when path is empty. A missing file is only an error when it
// was named explicitly.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if p, ok := lookup(EnvConfig); ok && p != "" {
			path, explicit = p, true
		}
	}
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		data, err := os.ReadFile(ExpandHome(path))
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.DBPath = ExpandHome(cfg.DBPath)
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvDBPath, &c.DBPath)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvProvider, &c.Embedding.Provider)
	str(EnvModel, &c.Embedding.Model)

	if v, ok := lookup(EnvRerank); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvRerank, err)
		}
		c.Reranker.Enabled = b
	}
	if v, ok := lookup(EnvMaxConcurrent); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvMaxConcurrent, err)
		}
		c.Limits.MaxConcurrent = n
	}
	if c.Reranker.APIKey == "" {
		str(EnvVoyageAPIKey, &c.Reranker.APIKey)
	}
	return nil
}

// Validate rejects values no component could work with
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DBPath != "", "db_path is required")
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	switch strings.ToLower(c.Embedding.Provider) {
	case "", "voyage", "jina", "openai", "local":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not supported", c.Embedding.Provider))
	}
	check(c.Embedding.Dimension >= 0, "embedding.dimension must not be negative")
	check(c.Embedding.BatchSize >= 0, "embedding.batch_size must not be negative")
	check(c.Embedding.MaxRetries >= 0, "embedding.max_retries must not be negative")

	check(c.Reranker.Weight >= 0 && c.Reranker.Weight <= 1, "reranker.weight must be within [0, 1]")
	check(c.Reranker.TopK >= 0, "reranker.top_k must not be negative")

	s := c.Search
	check(s.DefaultLimit >= 0, "search.default_limit must not be negative")
	check(s.RRFK >= 0, "search.rrf_k must not be negative")
	check(s.VectorWeight >= 0 && s.KeywordWeight >= 0, "search weights must not be negative")
	check(s.VectorWeight+s.KeywordWeight > 0, "search weights must not both be zero")
	check(s.BothBoost >= 0, "search.both_boost must not be negative")
	check(s.VariantWeight >= 0, "search.variant_weight must not be negative")
	for k, v := range s.CategoryBoost {
		check(v >= 0, "search.category_boost.%s must not be negative", k)
	}
	check(s.MaxQueries >= 0, "search.max_queries must not be negative")
	check(s.MMRLambda >= 0 && s.MMRLambda <= 1, "search.mmr_lambda must be within [0, 1]")
	check(s.MMRFetchK >= 0, "search.mmr_fetch_k must not be negative")

	check(c.Limits.MaxConcurrent > 0, "limits.max_concurrent must be positive")
	check(c.Limits.RequestsPerSecond >= 0, "limits.requests_per_second must not be negative")
	check(c.Index.Workers >= 0, "index.workers must not be negative")
	for _, ext := range c.Index.Extensions {
		check(strings.HasPrefix(ext, "."), "index.extensions entry %q must start with a dot", ext)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
