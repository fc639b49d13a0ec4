// Package embedder generates vector embeddings for documentation chunks and queries.
//
// A Client wraps one provider Backend (Voyage AI, Jina AI, OpenAI, or the
// offline feature-hashing backend) and adds batching, L2 normalization,
// retries, a shared concurrency limiter and an LRU cache.
//
// # Basic Usage
//
//	lim := limiter.New(4, 0, 0)
//	client, err := embedder.New(embedder.Config{Provider: "voyage", CacheSize: 10000}, lim, nil, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	// Indexing side: input type "document"
//	embs, err := client.EmbedDocuments(ctx, texts)
//
//	// Query side: input type "query"
//	q, err := client.EmbedQuery(ctx, "how do I create an index")
//
// The input type is chosen by the method, never by the caller, so document
// and query embeddings cannot be mixed up.
//
// # Failures
//
// Each batch is retried on its own: network errors back off exponentially,
// rate limits and server errors back off linearly, authentication and
// validation errors fail immediately. A batch that still fails is reported
// as an *EmbeddingError joined into the returned error, and its entries in
// the result are nil. The client never substitutes zero vectors.
//
// Texts longer than MaxInputTokens are rejected with ErrInputTooLarge before
// any request is made; callers split such chunks first (chunker.Resplit).
//
// # Normalization
//
// Every returned vector has unit length, so a dot product equals cosine
// similarity. Zero vectors are returned unchanged.
//
// # Caching
//
// Embeddings are cached by model, input type and text. Cache hits return
// deep copies, so callers may modify the vectors they receive.
package embedder
