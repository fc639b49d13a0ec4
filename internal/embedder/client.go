package embedder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dshills/docsearch-mcp/internal/limiter"
	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/retry"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// Client defaults
const (
	DefaultBatchSize      = 50
	DefaultRequestTimeout = 30 * time.Second
)

// ClientOptions configures a Client
type ClientOptions struct {
	BatchSize      int           // Texts per request, capped at the backend limit
	MaxInputTokens int           // Hard per-text provider limit; 0 disables the check
	Timeout        time.Duration // Per-attempt request timeout
	Retry          retry.Config
	Limiter        *limiter.Limiter
	Cache          *Cache
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Client implements Embedder on top of a Backend. It batches, retries,
// normalizes and caches; the backend only moves bytes.
type Client struct {
	backend Backend
	opts    ClientOptions
	logger  *slog.Logger
}

var _ Embedder = (*Client)(nil)

// NewClient wraps backend with batching, retry and normalization
func NewClient(backend Backend, opts ClientOptions) *Client {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if limit := backend.MaxBatchSize(); limit > 0 && opts.BatchSize > limit {
		opts.BatchSize = limit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.Retry.BaseDelay <= 0 && opts.Retry.LinearStep <= 0 {
		maxRetries := opts.Retry.MaxRetries
		opts.Retry = retry.DefaultConfig()
		if maxRetries > 0 {
			opts.Retry.MaxRetries = maxRetries
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		backend: backend,
		opts:    opts,
		logger:  logger.With(slog.String("component", "embedder"), slog.String("provider", backend.Name())),
	}
}

// EmbedDocuments embeds texts with input type "document"
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([]*Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if err := c.validate(text); err != nil {
			return nil, fmt.Errorf("text at index %d: %w", i, err)
		}
	}

	out := make([]*Embedding, len(texts))
	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		if emb, ok := c.cached(InputDocument, text); ok {
			out[i] = emb
			continue
		}
		missing = append(missing, i)
	}

	var errs []error
	for start := 0; start < len(missing); start += c.opts.BatchSize {
		end := start + c.opts.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		idx := missing[start:end]

		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		vecs, err := c.embedBatch(ctx, batch, InputDocument)
		if err != nil {
			batchErr := &EmbeddingError{
				Start:   idx[0],
				End:     idx[len(idx)-1] + 1,
				Indices: append([]int(nil), idx...),
				Err:     err,
			}
			c.logger.Warn("embedding batch failed",
				slog.Int("start", batchErr.Start),
				slog.Int("end", batchErr.End),
				slog.Int("count", len(batchErr.Indices)),
				slog.String("error", err.Error()))
			errs = append(errs, batchErr)
			continue
		}

		for j, i := range idx {
			out[i] = c.store(InputDocument, texts[i], vecs[j])
		}
	}

	return out, errors.Join(errs...)
}

// EmbedQuery embeds text with input type "query"
func (c *Client) EmbedQuery(ctx context.Context, text string) (*Embedding, error) {
	if err := c.validate(text); err != nil {
		return nil, err
	}
	if emb, ok := c.cached(InputQuery, text); ok {
		return emb, nil
	}

	vecs, err := c.embedBatch(ctx, []string{text}, InputQuery)
	if err != nil {
		return nil, &EmbeddingError{Start: 0, End: 1, Indices: []int{0}, Err: err}
	}
	return c.store(InputQuery, text, vecs[0]), nil
}

// MaxInputTokens returns the per-text limit callers must pre-split to
func (c *Client) MaxInputTokens() int {
	return c.opts.MaxInputTokens
}

func (c *Client) Dimension() int   { return c.backend.Dimension() }
func (c *Client) Provider() string { return c.backend.Name() }
func (c *Client) Model() string    { return c.backend.Model() }

func (c *Client) Close() error {
	if c.opts.Cache != nil {
		c.opts.Cache.Clear()
	}
	return c.backend.Close()
}

func (c *Client) validate(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	if c.opts.MaxInputTokens > 0 {
		if n := types.EstimateTokens(text); n > c.opts.MaxInputTokens {
			return fmt.Errorf("%w: %d tokens, limit %d", ErrInputTooLarge, n, c.opts.MaxInputTokens)
		}
	}
	return nil
}

func (c *Client) cached(inputType InputType, text string) (*Embedding, bool) {
	if c.opts.Cache == nil {
		return nil, false
	}
	emb, ok := c.opts.Cache.Get(cacheKey(c.backend.Model(), inputType, text))
	if ok {
		c.opts.Metrics.EmbeddingRequest(c.backend.Name(), "cached")
	}
	return emb, ok
}

func (c *Client) store(inputType InputType, text string, vec []float32) *Embedding {
	key := cacheKey(c.backend.Model(), inputType, text)
	emb := &Embedding{
		Vector:    vec,
		Dimension: len(vec),
		Provider:  c.backend.Name(),
		Model:     c.backend.Model(),
		Hash:      key,
	}
	if c.opts.Cache != nil {
		c.opts.Cache.Set(key, emb)
	}
	return emb
}

// embedBatch performs one logical request with retries and returns normalized vectors
func (c *Client) embedBatch(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	cfg := c.opts.Retry
	cfg.OnRetry = func(attempt int, class retry.Class, delay time.Duration, err error) {
		c.opts.Metrics.ProviderRetry("embedder", class.String())
		c.logger.Debug("retrying embedding request",
			slog.Int("attempt", attempt),
			slog.String("class", class.String()),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	}

	vecs, err := retry.Do(ctx, cfg, func(ctx context.Context) ([][]float32, error) {
		release, err := c.opts.Limiter.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()

		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		vecs, err := c.backend.Embed(attemptCtx, texts, inputType)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrProviderFailed, len(vecs), len(texts))
		}
		if dim := c.backend.Dimension(); dim > 0 {
			for _, v := range vecs {
				if len(v) != dim {
					return nil, retry.Permanent(fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dim))
				}
			}
		}
		return vecs, nil
	})
	if err != nil {
		c.opts.Metrics.EmbeddingRequest(c.backend.Name(), "error")
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	c.opts.Metrics.EmbeddingRequest(c.backend.Name(), "ok")

	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		out[i] = NormalizeVector(v)
	}
	return out, nil
}
