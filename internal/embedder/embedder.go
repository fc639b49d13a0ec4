package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrInputTooLarge     = errors.New("input exceeds provider token limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// InputType tags a request as document-side or query-side.
// Providers with asymmetric embedding spaces embed the two differently.
type InputType string

const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // Content hash for caching
}

// EmbeddingError reports a batch of texts that could not be embedded.
// Cached texts between Start and End were not part of the batch; Indices
// lists the positions that actually failed.
type EmbeddingError struct {
	Start   int // Index of the first failed text
	End     int // Index one past the last failed text
	Indices []int
	Err     error
}

func (e *EmbeddingError) Error() string {
	n := len(e.Indices)
	if n == 0 {
		n = e.End - e.Start
	}
	return fmt.Sprintf("embed %d texts in [%d:%d]: %v", n, e.Start, e.End, e.Err)
}

// Failed returns the positions of the texts that were not embedded
func (e *EmbeddingError) Failed() []int {
	if e.Indices != nil {
		return e.Indices
	}
	out := make([]int, 0, e.End-e.Start)
	for i := e.Start; i < e.End; i++ {
		out = append(out, i)
	}
	return out
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Embedder generates normalized embeddings for documents and queries.
// The input type is fixed by the method: there is no way to embed a query as
// a document or vice versa.
type Embedder interface {
	// EmbedDocuments embeds texts for indexing. The result has one entry per
	// text; entries from failed batches are nil and the error joins one
	// *EmbeddingError per failed batch.
	EmbedDocuments(ctx context.Context, texts []string) ([]*Embedding, error)

	// EmbedQuery embeds a search query
	EmbedQuery(ctx context.Context, text string) (*Embedding, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Backend is a raw provider transport. It performs exactly one request and
// returns vectors in input order; batching, retries and normalization are the
// Client's job.
type Backend interface {
	Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error)
	Name() string
	Model() string
	Dimension() int
	MaxBatchSize() int
	Close() error
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000 // Default: cache 10k embeddings
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](10000)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a deep copy of an embedding from cache
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	return cloneEmbedding(emb), true
}

// Set stores an embedding in cache with automatic LRU eviction
func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, cloneEmbedding(emb))
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

func cloneEmbedding(emb *Embedding) *Embedding {
	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)
	return &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// cacheKey separates document and query embeddings of the same text
func cacheKey(model string, inputType InputType, text string) string {
	return ComputeHash(model + "\x00" + string(inputType) + "\x00" + text)
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity).
// A zero vector is returned unchanged.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / norm)
	}

	return result
}
