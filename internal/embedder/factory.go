package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dshills/docsearch-mcp/internal/httpjson"
	"github.com/dshills/docsearch-mcp/internal/limiter"
	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/retry"
)

// Environment variables
const (
	EnvProvider     = "DOCSEARCH_EMBEDDING_PROVIDER"
	EnvVoyageAPIKey = "VOYAGE_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider       string
	APIKey         string
	Model          string
	BaseURL        string
	Dimension      int
	BatchSize      int
	CacheSize      int
	MaxInputTokens int
	MaxRetries     int
	Timeout        time.Duration
}

// New creates an embedding client with explicit configuration.
// The limiter is shared with every other provider client in the process.
func New(cfg Config, lim *limiter.Limiter, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}

	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	rc := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		rc.MaxRetries = cfg.MaxRetries
	}

	return NewClient(backend, ClientOptions{
		BatchSize:      cfg.BatchSize,
		MaxInputTokens: cfg.MaxInputTokens,
		Timeout:        cfg.Timeout,
		Retry:          rc,
		Limiter:        lim,
		Cache:          cache,
		Metrics:        m,
		Logger:         logger,
	}), nil
}

// NewBackend creates the raw provider backend named by cfg.Provider
func NewBackend(cfg Config) (Backend, error) {
	opts := BackendOptions{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Dimension:  cfg.Dimension,
		HTTPClient: httpjson.NewClient(cfg.Timeout),
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderVoyage:
		if opts.APIKey == "" {
			opts.APIKey = os.Getenv(EnvVoyageAPIKey)
		}
		return NewVoyageBackend(opts)
	case ProviderJina:
		if opts.APIKey == "" {
			opts.APIKey = os.Getenv(EnvJinaAPIKey)
		}
		return NewJinaBackend(opts)
	case ProviderOpenAI:
		if opts.APIKey == "" {
			opts.APIKey = os.Getenv(EnvOpenAIAPIKey)
		}
		return NewOpenAIBackend(opts)
	case ProviderLocal:
		return NewLocalBackend(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// NewFromEnv creates an embedding client based on environment variables
// Priority:
// 1. DOCSEARCH_EMBEDDING_PROVIDER (voyage, jina, openai, local)
// 2. Check for API keys: VOYAGE_API_KEY, JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv(lim *limiter.Limiter, logger *slog.Logger) (*Client, error) {
	return New(Config{Provider: DetectProvider(), CacheSize: 10000}, lim, nil, logger)
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvVoyageAPIKey) != "" {
		return ProviderVoyage
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
