// Package app wires configuration into the storage, provider, search and
// indexing components shared by the CLI and the MCP server.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/docsearch-mcp/internal/config"
	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/expander"
	"github.com/dshills/docsearch-mcp/internal/fusion"
	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/limiter"
	"github.com/dshills/docsearch-mcp/internal/logging"
	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/reranker"
	"github.com/dshills/docsearch-mcp/internal/retry"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
)

// App holds the long-lived components of one process
type App struct {
	Config   *config.Config
	Store    *storage.SQLiteStorage
	Limiter  *limiter.Limiter
	Metrics  *metrics.Metrics
	Embedder *embedder.Client
	Reranker reranker.Reranker // nil when reranking is disabled
	Searcher *searcher.Searcher
	Indexer  *indexer.Indexer
	Logger   *slog.Logger
}

// New opens the index at cfg.DBPath and builds every component around it.
// One limiter is shared by the embedding and rerank clients.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	m := metrics.New()
	lim := limiter.New(cfg.Limits.MaxConcurrent, cfg.Limits.RequestsPerSecond, cfg.Limits.Burst)

	ec := cfg.Embedding
	emb, err := embedder.New(embedder.Config{
		Provider:       ec.Provider,
		APIKey:         ec.APIKey,
		Model:          ec.Model,
		BaseURL:        ec.BaseURL,
		Dimension:      ec.Dimension,
		BatchSize:      ec.BatchSize,
		CacheSize:      ec.CacheSize,
		MaxInputTokens: ec.MaxInputTokens,
		MaxRetries:     ec.MaxRetries,
		Timeout:        ec.Timeout.Duration,
	}, lim, m, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	rr, err := newReranker(cfg, lim, m, logger)
	if err != nil {
		emb.Close()
		store.Close()
		return nil, err
	}

	var exp *expander.Expander
	if cfg.Search.Expansion {
		exp = expander.New(expander.WithMaxQueries(cfg.Search.MaxQueries))
	}

	sc := cfg.Search
	fc := fusion.Config{
		K:             sc.RRFK,
		Weights:       fusion.Weights{Vector: sc.VectorWeight, Keyword: sc.KeywordWeight},
		BothBoost:     sc.BothBoost,
		CategoryBoost: sc.CategoryBoost,
	}

	opts := searcher.Options{
		Expander:      exp,
		RerankTopK:    cfg.Reranker.TopK,
		Fusion:        &fc,
		VariantWeight: sc.VariantWeight,
		CacheSize:     sc.CacheSize,
		CacheTTL:      sc.CacheTTL.Duration,
		Metrics:       m,
		Logger:        logger,
	}
	// a typed nil would defeat the searcher's nil check
	if rr != nil {
		opts.Reranker = rr
	}

	a := &App{
		Config:   cfg,
		Store:    store,
		Limiter:  lim,
		Metrics:  m,
		Embedder: emb,
		Searcher: searcher.NewSearcher(store, emb, opts),
		Indexer:  indexer.New(store, emb, indexer.Options{Metrics: m, Logger: logger}),
		Logger:   logger,
	}
	if rr != nil {
		a.Reranker = rr
	}

	logger.Info("docsearch initialized",
		slog.String("db", cfg.DBPath),
		slog.String("provider", emb.Provider()),
		slog.String("model", emb.Model()),
		slog.Int("dimension", emb.Dimension()),
		slog.Bool("rerank", rr != nil),
		slog.Bool("expansion", exp != nil))

	return a, nil
}

// newReranker returns nil when reranking is disabled or has no API key
func newReranker(cfg *config.Config, lim *limiter.Limiter, m *metrics.Metrics, logger *slog.Logger) (*reranker.Client, error) {
	rc := cfg.Reranker
	if !rc.Enabled {
		return nil, nil
	}
	if rc.APIKey == "" {
		logger.Warn("reranking enabled without an API key, continuing without it")
		return nil, nil
	}

	rt := retry.DefaultConfig()
	if cfg.Embedding.MaxRetries > 0 {
		rt.MaxRetries = cfg.Embedding.MaxRetries
	}

	client, err := reranker.New(reranker.Config{
		APIKey:   rc.APIKey,
		Model:    rc.Model,
		URL:      rc.URL,
		Weight:   rc.Weight,
		MaxChars: rc.MaxChars,
		Timeout:  rc.Timeout.Duration,
		Retry:    rt,
		Limiter:  lim,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker: %w", err)
	}
	return client, nil
}

// IndexConfig builds an indexing run configuration from the defaults in
// the [index] section
func (a *App) IndexConfig(product string, force, prune bool) *indexer.Config {
	return &indexer.Config{
		Workers:             a.Config.Index.Workers,
		Force:               force,
		Prune:               prune,
		Product:             product,
		DegradedZeroVectors: a.Config.Index.DegradedZeroVectors,
	}
}

// Close releases provider and storage resources
func (a *App) Close() error {
	var errs []error
	if a.Embedder != nil {
		errs = append(errs, a.Embedder.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
