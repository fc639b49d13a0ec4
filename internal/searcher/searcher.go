package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/docsearch-mcp/internal/assembler"
	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/expander"
	"github.com/dshills/docsearch-mcp/internal/fusion"
	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/reranker"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

var (
	ErrEmptyQuery        = errors.New("query cannot be empty")
	ErrUnsupportedMode   = errors.New("unsupported search mode")
	ErrAllChannelsFailed = errors.New("all search channels failed")
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + text with RRF
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // Text search only
	SearchModeMMR     SearchMode = "mmr"     // Diverse vector selection
)

// Search defaults
const (
	DefaultLimit               = 10
	MaxLimit                   = 100
	DefaultCandidateMultiplier = 4
	DefaultVariantWeight       = 0.5
	DefaultFetchK              = 20
	DefaultLambda              = 0.5
	DefaultCacheSize           = 1000
	DefaultCacheTTL            = time.Hour

	// numCandidatesFactor widens the ANN candidate pool relative to the
	// number of results requested from it
	numCandidatesFactor = 10
	minPerChannel       = 20
)

// DefaultCategoryBoost penalizes meta pages such as release notes. Other
// content types keep their fused score.
var DefaultCategoryBoost = map[string]float64{
	string(types.ContentMeta): 0.8,
}

// MMROptions configures a diversity search. LambdaMult is used as given
// (clamped to [0, 1]); zero means maximum diversity, not the default.
type MMROptions struct {
	Limit      int
	FetchK     int
	LambdaMult float64
}

// DefaultMMROptions returns limit 10, fetchK 20 and lambda 0.5
func DefaultMMROptions() MMROptions {
	return MMROptions{Limit: DefaultLimit, FetchK: DefaultFetchK, LambdaMult: DefaultLambda}
}

// Request contains parameters for a search operation
type Request struct {
	Query   string
	Limit   int
	Mode    SearchMode
	Filters *storage.SearchFilters
	MMR     MMROptions // Used by SearchModeMMR; Limit falls back to Request.Limit

	DisableExpansion bool
	DisableRerank    bool
	UseCache         bool
}

// Response contains search results and metadata
type Response struct {
	Results       []types.SearchResult
	TotalResults  int
	Mode          SearchMode
	Duration      time.Duration
	CacheHit      bool
	Queries       []string // Query strings actually searched
	VectorResults int
	TextResults   int
	Degraded      []string // Channels that failed for at least one query
	Suggestions   []string // Alternative phrasings when nothing matched
}

// Store is the part of the index the searcher reads from
type Store interface {
	storage.Reader
	GetStats(ctx context.Context) (*types.Stats, error)
}

// Options configures a Searcher. Nil Expander disables query expansion
// and nil Reranker disables reranking.
type Options struct {
	Expander      *expander.Expander
	Reranker      reranker.Reranker
	RerankTopK    int
	Fusion        *fusion.Config // nil means DefaultConfig with DefaultCategoryBoost
	VariantWeight float64        // Weight multiplier for expanded variants
	// CandidateMultiplier sets per-channel candidates as a multiple of the
	// limit so grouping has enough chunks to fill it
	CandidateMultiplier int
	CacheSize           int
	CacheTTL            time.Duration
	Metrics             *metrics.Metrics
	Logger              *slog.Logger
}

// Searcher coordinates search operations across vector and text search
type Searcher struct {
	store    Store
	embedder embedder.Embedder
	expander *expander.Expander
	reranker reranker.Reranker
	fusion   fusion.Config
	opts     Options
	cache    *expirable.LRU[[32]byte, *Response]
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store Store, emb embedder.Embedder, opts Options) *Searcher {
	if opts.RerankTopK <= 0 {
		opts.RerankTopK = reranker.DefaultTopK
	}
	if opts.VariantWeight <= 0 {
		opts.VariantWeight = DefaultVariantWeight
	}
	if opts.CandidateMultiplier <= 0 {
		opts.CandidateMultiplier = DefaultCandidateMultiplier
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}

	cfg := fusion.DefaultConfig()
	cfg.CategoryBoost = DefaultCategoryBoost
	if opts.Fusion != nil {
		cfg = *opts.Fusion
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Searcher{
		store:    store,
		embedder: emb,
		expander: opts.Expander,
		reranker: opts.Reranker,
		fusion:   cfg,
		opts:     opts,
		cache:    expirable.NewLRU[[32]byte, *Response](opts.CacheSize, nil, opts.CacheTTL),
		metrics:  opts.Metrics,
		logger:   logger.With(slog.String("component", "searcher")),
	}
}

// HybridSearch runs expanded vector and text search fused with RRF
func (s *Searcher) HybridSearch(ctx context.Context, query string, limit int) ([]types.SearchResult, error) {
	resp, err := s.Search(ctx, Request{Query: query, Limit: limit, Mode: SearchModeHybrid, UseCache: true})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// MMRSearch selects a diverse result set from the vector channel
func (s *Searcher) MMRSearch(ctx context.Context, query string, opts MMROptions) ([]types.SearchResult, error) {
	resp, err := s.Search(ctx, Request{Query: query, Limit: opts.Limit, Mode: SearchModeMMR, MMR: opts, UseCache: true})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// FindSimilar returns documents whose chunks are closest to content. The
// content is embedded as a document, cut to the provider input limit.
func (s *Searcher) FindSimilar(ctx context.Context, content string, limit int) ([]types.SearchResult, error) {
	start := time.Now()
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyQuery
	}
	limit = clampLimit(limit)

	if m, ok := s.embedder.(interface{ MaxInputTokens() int }); ok && m.MaxInputTokens() > 0 {
		content = truncateRunes(content, m.MaxInputTokens()*types.TokensPerChar)
	}

	embs, err := s.embedder.EmbedDocuments(ctx, []string{content})
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if len(embs) == 0 || embs[0] == nil {
		return nil, errors.New("failed to embed content: no vector returned")
	}

	perChannel := s.perChannel(limit)
	results, err := s.store.SearchVector(ctx, storage.VectorQuery{
		Vector:        embs[0].Vector,
		NumCandidates: perChannel * numCandidatesFactor,
		Limit:         perChannel,
	})
	if err != nil {
		return nil, err
	}

	items := make([]fusion.Candidate, len(results))
	for i, r := range results {
		items[i] = fusion.Candidate{ID: r.ChunkID, Score: r.SimilarityScore}
	}
	hits, err := s.hydrate(ctx, []fusion.List{{Channel: types.ProvenanceVector, Weight: 1, Items: items}}, false)
	if err != nil {
		return nil, err
	}

	out := assembler.Assemble(hits, limit)
	s.metrics.ObserveSearch("similar", time.Since(start))
	return out, nil
}

// GetStats reports index contents and the configured embedding model
func (s *Searcher) GetStats(ctx context.Context) (*types.Stats, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.ConfiguredModel = s.embedder.Model()
	return stats, nil
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}
	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	var key [32]byte
	if req.UseCache {
		key = computeQueryHash(&req)
		if cached, ok := s.cache.Get(key); ok {
			resp := copyResponse(cached)
			resp.CacheHit = true
			resp.Duration = time.Since(startTime)
			return resp, nil
		}
	}

	var resp *Response
	var err error
	switch req.Mode {
	case SearchModeHybrid:
		resp, err = s.fusedSearch(ctx, &req, true, true)
	case SearchModeVector:
		resp, err = s.fusedSearch(ctx, &req, true, false)
	case SearchModeKeyword:
		resp, err = s.fusedSearch(ctx, &req, false, true)
	case SearchModeMMR:
		resp, err = s.mmrSearch(ctx, &req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, req.Mode)
	}
	if err != nil {
		return nil, err
	}

	resp.Mode = req.Mode
	resp.TotalResults = len(resp.Results)
	if len(resp.Results) == 0 {
		s.metrics.EmptyResult()
		if s.expander != nil {
			resp.Suggestions = s.expander.Suggestions(req.Query)
		}
	}
	resp.Duration = time.Since(startTime)
	s.metrics.ObserveSearch(string(req.Mode), resp.Duration)

	s.logger.Debug("search completed",
		slog.String("mode", string(req.Mode)),
		slog.Int("queries", len(resp.Queries)),
		slog.Int("results", resp.TotalResults),
		slog.Duration("duration", resp.Duration))

	// Degraded answers are not cached so a recovered channel is used next time
	if req.UseCache && len(resp.Results) > 0 && len(resp.Degraded) == 0 {
		s.cache.Add(key, copyResponse(resp))
	}
	return resp, nil
}

// InvalidateCache drops all cached responses, typically after re-indexing
func (s *Searcher) InvalidateCache() {
	s.cache.Purge()
}

// fusedSearch runs the enabled channels for every expanded query and fuses
// the ranked lists with RRF
func (s *Searcher) fusedSearch(ctx context.Context, req *Request, vector, text bool) (*Response, error) {
	queries := []string{req.Query}
	if s.expander != nil && !req.DisableExpansion {
		queries = s.expander.Expand(req.Query)
	}

	r, err := s.retrieve(ctx, req, queries, vector, text)
	if err != nil {
		return nil, err
	}

	hits, err := s.hydrate(ctx, r.lists, true)
	if err != nil {
		return nil, err
	}
	if s.reranker != nil && !req.DisableRerank {
		hits = s.rerank(ctx, req.Query, hits)
	}

	return &Response{
		Results:       assembler.Assemble(hits, req.Limit),
		Queries:       queries,
		VectorResults: r.vectorHits,
		TextResults:   r.textHits,
		Degraded:      r.degraded,
	}, nil
}

// retrieval holds the ranked lists of every channel that succeeded
type retrieval struct {
	lists      []fusion.List
	vectorHits int
	textHits   int
	degraded   []string
}

// retrieve issues all channel searches concurrently. A failed channel is
// logged and left out; only a failure of every channel is an error.
func (s *Searcher) retrieve(ctx context.Context, req *Request, queries []string, vector, text bool) (*retrieval, error) {
	type slot struct {
		channel types.Provenance
		query   string
		weight  float64
		items   []fusion.Candidate
		err     error
	}

	var slots []*slot
	for i, q := range queries {
		w := 1.0
		if i > 0 {
			w = s.opts.VariantWeight
		}
		if vector {
			slots = append(slots, &slot{channel: types.ProvenanceVector, query: q, weight: w * s.fusion.Weights.Vector})
		}
		if text {
			slots = append(slots, &slot{channel: types.ProvenanceText, query: q, weight: w * s.fusion.Weights.Keyword})
		}
	}

	perChannel := s.perChannel(req.Limit)
	var g errgroup.Group
	for _, sl := range slots {
		g.Go(func() error {
			if sl.channel == types.ProvenanceVector {
				sl.items, sl.err = s.searchVector(ctx, sl.query, perChannel, req.Filters)
			} else {
				sl.items, sl.err = s.searchText(ctx, sl.query, perChannel, req.Filters)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &retrieval{}
	var errs []error
	failed := make(map[types.Provenance]bool)
	for _, sl := range slots {
		if sl.err != nil {
			errs = append(errs, fmt.Errorf("%s search for %q: %w", sl.channel, sl.query, sl.err))
			failed[sl.channel] = true
			s.metrics.SearchDegraded(string(sl.channel))
			continue
		}
		r.lists = append(r.lists, fusion.List{Channel: sl.channel, Weight: sl.weight, Items: sl.items})
		if sl.channel == types.ProvenanceVector {
			r.vectorHits += len(sl.items)
		} else {
			r.textHits += len(sl.items)
		}
	}

	if len(errs) == len(slots) {
		return nil, fmt.Errorf("%w: %w", ErrAllChannelsFailed, errors.Join(errs...))
	}
	if len(errs) > 0 {
		s.logger.Warn("search degraded",
			slog.Int("failed", len(errs)),
			slog.Int("channels", len(slots)),
			slog.String("error", errors.Join(errs...).Error()))
		for _, ch := range []types.Provenance{types.ProvenanceVector, types.ProvenanceText} {
			if failed[ch] {
				r.degraded = append(r.degraded, string(ch))
			}
		}
	}
	return r, nil
}

func (s *Searcher) searchVector(ctx context.Context, query string, limit int, filters *storage.SearchFilters) ([]fusion.Candidate, error) {
	emb, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	results, err := s.store.SearchVector(ctx, storage.VectorQuery{
		Vector:        emb.Vector,
		NumCandidates: limit * numCandidatesFactor,
		Limit:         limit,
		Filters:       filters,
	})
	if err != nil {
		return nil, err
	}
	items := make([]fusion.Candidate, len(results))
	for i, r := range results {
		items[i] = fusion.Candidate{ID: r.ChunkID, Score: r.SimilarityScore}
	}
	return items, nil
}

func (s *Searcher) searchText(ctx context.Context, query string, limit int, filters *storage.SearchFilters) ([]fusion.Candidate, error) {
	results, err := s.store.SearchText(ctx, storage.TextQuery{
		Query:   query,
		Fuzzy:   true,
		Limit:   limit,
		Filters: filters,
	})
	if err != nil {
		return nil, err
	}
	items := make([]fusion.Candidate, len(results))
	for i, r := range results {
		items[i] = fusion.Candidate{ID: r.ChunkID, Score: r.BM25Score}
	}
	return items, nil
}

// hydrate loads the chunks behind the candidate lists and turns them into
// assembler hits. With fuse set the lists are combined with RRF (category
// boosts use the chunk content type); otherwise the first list's order and
// scores are kept. Candidates whose chunk vanished are dropped.
func (s *Searcher) hydrate(ctx context.Context, lists []fusion.List, fuse bool) ([]assembler.Hit, error) {
	var ids []string
	seen := make(map[string]struct{})
	for _, l := range lists {
		for _, c := range l.Items {
			if _, ok := seen[c.ID]; !ok {
				seen[c.ID] = struct{}{}
				ids = append(ids, c.ID)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	chunks, err := s.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	for li := range lists {
		kept := lists[li].Items[:0:0]
		for _, c := range lists[li].Items {
			chunk, ok := chunks[c.ID]
			if !ok {
				continue
			}
			c.Category = string(chunk.ContentType)
			kept = append(kept, c)
		}
		lists[li].Items = kept
	}

	var hits []assembler.Hit
	if fuse {
		for _, f := range fusion.FuseLists(lists, s.fusion) {
			hits = append(hits, newHit(chunks[f.ID], f.Score, f.Provenance))
		}
		return hits, nil
	}
	for _, l := range lists {
		for _, c := range l.Items {
			hits = append(hits, newHit(chunks[c.ID], c.Score, l.Channel))
		}
	}
	return hits, nil
}

func newHit(c *types.Chunk, score float64, prov types.Provenance) assembler.Hit {
	return assembler.Hit{
		ChunkID:      c.ID,
		DocumentID:   c.DocumentID,
		Content:      c.Content,
		SectionTitle: c.SectionTitle,
		ContentType:  c.ContentType,
		Score:        score,
		Provenance:   prov,
		Metadata:     c.Metadata,
	}
}

// rerank reorders hits with the reranker and carries the blended scores
func (s *Searcher) rerank(ctx context.Context, query string, hits []assembler.Hit) []assembler.Hit {
	if len(hits) == 0 {
		return hits
	}
	items := make([]reranker.Item, len(hits))
	byID := make(map[string]assembler.Hit, len(hits))
	for i, h := range hits {
		items[i] = reranker.Item{ID: h.ChunkID, Text: h.Content, Score: h.Score}
		byID[h.ChunkID] = h
	}

	ranked := s.reranker.Rerank(ctx, query, items, s.opts.RerankTopK)
	out := make([]assembler.Hit, 0, len(ranked))
	for _, it := range ranked {
		h, ok := byID[it.ID]
		if !ok {
			continue
		}
		h.Score = it.Score
		out = append(out, h)
	}
	return out
}

// mmrSearch fetches FetchK vector candidates with their embeddings and
// selects a diverse subset
func (s *Searcher) mmrSearch(ctx context.Context, req *Request) (*Response, error) {
	opts := req.MMR
	if opts.Limit <= 0 {
		opts.Limit = req.Limit
	}
	opts.Limit = clampLimit(opts.Limit)
	if opts.FetchK <= 0 {
		opts.FetchK = max(DefaultFetchK, 2*opts.Limit)
	}
	if opts.FetchK < opts.Limit {
		opts.FetchK = opts.Limit
	}

	emb, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate query embedding: %w", ErrAllChannelsFailed, err)
	}
	results, err := s.store.SearchVector(ctx, storage.VectorQuery{
		Vector:         emb.Vector,
		NumCandidates:  opts.FetchK * numCandidatesFactor,
		Limit:          opts.FetchK,
		Filters:        req.Filters,
		IncludeVectors: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllChannelsFailed, err)
	}

	candidates := make([]fusion.MMRCandidate, len(results))
	for i, r := range results {
		candidates[i] = fusion.MMRCandidate{ID: r.ChunkID, Relevance: r.SimilarityScore, Embedding: r.Vector}
	}
	selected := fusion.SelectMMR(emb.Vector, candidates, opts.Limit, opts.FetchK, opts.LambdaMult)

	items := make([]fusion.Candidate, len(selected))
	for i, c := range selected {
		items[i] = fusion.Candidate{ID: c.ID, Score: c.Relevance}
	}
	hits, err := s.hydrate(ctx, []fusion.List{{Channel: types.ProvenanceVector, Weight: 1, Items: items}}, false)
	if err != nil {
		return nil, err
	}

	return &Response{
		Results:       assembler.Assemble(hits, opts.Limit),
		Queries:       []string{req.Query},
		VectorResults: len(results),
	}, nil
}

func (s *Searcher) perChannel(limit int) int {
	return max(limit*s.opts.CandidateMultiplier, minPerChannel)
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	req.Limit = clampLimit(req.Limit)
	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// copyResponse creates a deep copy so cached entries are never shared
func copyResponse(src *Response) *Response {
	dst := *src
	dst.Queries = append([]string(nil), src.Queries...)
	dst.Degraded = append([]string(nil), src.Degraded...)
	dst.Suggestions = append([]string(nil), src.Suggestions...)
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, r := range src.Results {
		r.Chunks = append([]types.ChunkHit(nil), r.Chunks...)
		r.Metadata = r.Metadata.Clone()
		dst.Results[i] = r
	}
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req *Request) [32]byte {
	var data strings.Builder
	fmt.Fprintf(&data, "%s|%s|%d|%t|%t", req.Query, req.Mode, req.Limit, req.DisableExpansion, req.DisableRerank)
	if req.Mode == SearchModeMMR {
		fmt.Fprintf(&data, "|mmr:%d,%d,%.4f", req.MMR.Limit, req.MMR.FetchK, req.MMR.LambdaMult)
	}

	if f := req.Filters; f != nil {
		contentTypes := make([]string, len(f.ContentTypes))
		for i, ct := range f.ContentTypes {
			contentTypes[i] = string(ct)
		}
		data.WriteString("|filters:")
		data.WriteString(sortedJoin(f.Products))
		data.WriteString("|")
		data.WriteString(sortedJoin(f.Versions))
		data.WriteString("|")
		data.WriteString(sortedJoin(contentTypes))
		data.WriteString("|")
		data.WriteString(f.SourcePattern)
		fmt.Fprintf(&data, "|%.4f", f.MinRelevance)
	}

	return sha256.Sum256([]byte(data.String()))
}

func sortedJoin(values []string) string {
	v := append([]string(nil), values...)
	sort.Strings(v)
	return strings.Join(v, ",")
}
