// Package searcher answers queries against the document index.
//
// A hybrid search runs this pipeline:
//
//  1. Expand the query into up to five variants (internal/expander)
//  2. For every variant, embed it and run vector search while running
//     keyword search, all concurrently
//  3. Fuse every ranked list with Reciprocal Rank Fusion. Variants count at
//     half weight, chunks found by both channels get a 1.2 boost and the
//     content type of a chunk applies a category multiplier.
//  4. Optionally rerank the fused chunks with a cross-encoder
//  5. Group chunks by document and order the documents (internal/assembler)
//
// A channel that fails for one variant is logged, counted in metrics and
// left out; the search only fails when every channel failed. An empty result
// is not an error: Response.Suggestions carries alternative phrasings.
//
// MMR mode skips expansion and fusion. It fetches FetchK vector candidates
// with their embeddings and greedily selects a diverse subset.
//
// # Usage
//
//	s := searcher.NewSearcher(store, emb, searcher.Options{
//	    Expander: expander.New(),
//	    Reranker: rr,
//	})
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query:    "replica set election",
//	    Limit:    10,
//	    Mode:     searcher.SearchModeHybrid,
//	    Filters:  &storage.SearchFilters{Products: []string{"server"}},
//	    UseCache: true,
//	})
//
// # Caching
//
// Responses are cached in an expiring LRU keyed by query, mode, limit and
// filters. Degraded and empty responses are not cached. Call InvalidateCache
// after re-indexing.
package searcher
