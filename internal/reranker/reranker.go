// Package reranker reorders a short candidate list with an external
// cross-encoder. Reranking is an optional quality pass: on any failure the
// input list is returned unchanged.
package reranker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/dshills/docsearch-mcp/internal/httpjson"
	"github.com/dshills/docsearch-mcp/internal/limiter"
	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/retry"
)

// Defaults
const (
	DefaultModel    = "rerank-2"
	DefaultURL      = "https://api.voyageai.com/v1/rerank"
	DefaultWeight   = 0.7
	DefaultMaxChars = 1000
	DefaultTopK     = 20
	DefaultTimeout  = 30 * time.Second
)

// Item is one candidate to rerank
type Item struct {
	ID    string
	Text  string
	Score float64
}

// Reranker reorders items by query relevance
type Reranker interface {
	// Rerank returns items reordered with blended scores. It never fails:
	// when the provider cannot be used the input is returned unchanged.
	Rerank(ctx context.Context, query string, items []Item, topK int) []Item
}

// Noop leaves rankings untouched
type Noop struct{}

func (Noop) Rerank(_ context.Context, _ string, items []Item, _ int) []Item {
	return items
}

// Result is one scored document from the provider
type Result struct {
	Index int
	Score float64
}

// Config configures the HTTP reranker
type Config struct {
	APIKey   string
	Model    string
	URL      string
	Weight   float64 // Share of the rerank score in the blend
	MaxChars int     // Per-document character budget
	Timeout  time.Duration
	Retry    retry.Config

	HTTPClient *http.Client
	Limiter    *limiter.Limiter
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Client calls a rerank endpoint
type Client struct {
	cfg    Config
	logger *slog.Logger
}

var _ Reranker = (*Client)(nil)

// New creates a reranker client
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("reranker: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Weight <= 0 || cfg.Weight > 1 {
		cfg.Weight = DefaultWeight
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.BaseDelay <= 0 && cfg.Retry.LinearStep <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpjson.NewClient(cfg.Timeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{cfg: cfg, logger: logger.With(slog.String("component", "reranker"))}, nil
}

// Rerank scores the first topK items and blends the result with their
// original scores. Every scored item gets
//
//	weight*rerank + (1-weight)*original/maxOriginal
//
// where rerank is 0 for items the provider did not return. The head is sorted
// by the blended score, ties keeping input order. Items past topK follow it
// unchanged.
func (c *Client) Rerank(ctx context.Context, query string, items []Item, topK int) []Item {
	if len(items) == 0 || query == "" {
		return items
	}
	n := topK
	if n <= 0 || n > len(items) {
		n = len(items)
	}

	docs := make([]string, n)
	for i := 0; i < n; i++ {
		docs[i] = Truncate(items[i].Text, c.cfg.MaxChars)
	}

	results, err := c.Score(ctx, query, docs, n)
	if err == nil && len(results) == 0 {
		err = fmt.Errorf("no usable results")
	}
	if err != nil {
		c.cfg.Metrics.RerankFallback()
		c.logger.Warn("rerank failed, using original order", slog.String("error", err.Error()))
		return items
	}

	head := Blend(items[:n], results, c.cfg.Weight)
	return append(head, items[n:]...)
}

// Blend applies provider results to items. Results pointing outside the
// scored range or repeating an index are ignored.
func Blend(items []Item, results []Result, weight float64) []Item {
	maxOrig := 0.0
	for _, it := range items {
		if it.Score > maxOrig {
			maxOrig = it.Score
		}
	}

	rerank := make(map[int]float64, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(items) {
			continue
		}
		if _, dup := rerank[r.Index]; dup {
			continue
		}
		rerank[r.Index] = r.Score
	}

	out := make([]Item, len(items))
	for i, it := range items {
		norm := 0.0
		if maxOrig > 0 {
			norm = it.Score / maxOrig
		}
		it.Score = weight*rerank[i] + (1-weight)*norm
		out[i] = it
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Score performs the raw rerank request with retries
func (c *Client) Score(ctx context.Context, query string, docs []string, topK int) ([]Result, error) {
	reqBody := struct {
		Query     string   `json:"query"`
		Documents []string `json:"documents"`
		Model     string   `json:"model"`
		TopK      int      `json:"top_k,omitempty"`
	}{
		Query:     query,
		Documents: docs,
		Model:     c.cfg.Model,
		TopK:      topK,
	}

	cfg := c.cfg.Retry
	cfg.OnRetry = func(attempt int, class retry.Class, delay time.Duration, err error) {
		c.cfg.Metrics.ProviderRetry("reranker", class.String())
	}

	return retry.Do(ctx, cfg, func(ctx context.Context) ([]Result, error) {
		release, err := c.cfg.Limiter.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		var resp response
		if err := httpjson.Post(attemptCtx, c.cfg.HTTPClient, c.cfg.URL, c.cfg.APIKey, reqBody, &resp); err != nil {
			return nil, err
		}
		return resp.results(len(docs)), nil
	})
}

// response accepts both camelCase and snake_case score fields
type response struct {
	Data []struct {
		Index          int      `json:"index"`
		RelevanceScore *float64 `json:"relevanceScore"`
		Relevance      *float64 `json:"relevance_score"`
	} `json:"data"`
}

func (r response) results(n int) []Result {
	out := make([]Result, 0, len(r.Data))
	for _, d := range r.Data {
		if d.Index < 0 || d.Index >= n {
			continue
		}
		switch {
		case d.RelevanceScore != nil:
			out = append(out, Result{Index: d.Index, Score: *d.RelevanceScore})
		case d.Relevance != nil:
			out = append(out, Result{Index: d.Index, Score: *d.Relevance})
		}
	}
	return out
}

// Truncate cuts s to at most maxChars runes
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	i := 0
	for pos := range s {
		if i == maxChars {
			return s[:pos]
		}
		i++
	}
	return s
}
