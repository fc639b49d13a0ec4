package storage

import (
	"context"
	"time"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

// Reader is the query side of the index
type Reader interface {
	// Document operations
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocumentIDs(ctx context.Context, product string) ([]string, error)

	// Chunk operations
	GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error)
	ListChunkHashes(ctx context.Context, documentID string) (map[string][32]byte, error)

	// Embedding operations
	GetEmbeddings(ctx context.Context, chunkIDs []string) (map[string][]float32, error)

	// Search operations
	SearchVector(ctx context.Context, q VectorQuery) ([]VectorResult, error)
	SearchText(ctx context.Context, q TextQuery) ([]TextResult, error)
}

// Writer is the idempotent write path keyed by stable IDs
type Writer interface {
	UpsertDocument(ctx context.Context, doc *Document) error
	DeleteDocument(ctx context.Context, id string) error
	UpsertChunk(ctx context.Context, chunk *types.Chunk) error
	DeleteChunks(ctx context.Context, ids []string) (deletedCount int, err error)
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	RecordIndexRun(ctx context.Context, run *IndexRun) error
}

// Storage defines the interface for persisting and querying indexed documents
type Storage interface {
	Reader
	Writer

	// Status operations
	GetStats(ctx context.Context) (*types.Stats, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Reader
	Writer
	Commit() error
	Rollback() error
}

// Document is the stored record for one source document
type Document struct {
	ID          string
	Metadata    types.Metadata
	ContentHash [32]byte
	ContentType types.ContentType
	ChunkCount  int
	IndexedAt   time.Time
}

// Embedding is a vector stored for one chunk
type Embedding struct {
	ChunkID   string
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	IndexedAt time.Time
}

// IndexRun records one completed indexing pass
type IndexRun struct {
	ID             int64
	Product        string
	Documents      int
	ChunksIndexed  int
	ChunksSkipped  int
	ChunksDeleted  int
	EmbeddingModel string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// SearchFilters narrows both search channels
type SearchFilters struct {
	Products      []string
	Versions      []string
	ContentTypes  []types.ContentType
	SourcePattern string  // GLOB pattern over source paths
	MinRelevance  float64 // Minimum channel score
}

// VectorQuery is a nearest-neighbour request
type VectorQuery struct {
	Vector         []float32
	NumCandidates  int // Upper bound on the result count; 0 means Limit
	Limit          int
	Filters        *SearchFilters
	IncludeVectors bool
}

// Text search fields
const (
	FieldContent      = "content"
	FieldSectionTitle = "section_title"
	FieldTitle        = "title"
)

// TextQuery is a keyword request against the FTS index
type TextQuery struct {
	Query   string
	Fields  []string // Subset of the Field constants; empty means all
	Fuzzy   bool     // Match terms as prefixes
	Limit   int
	Filters *SearchFilters
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	ChunkID         string
	DocumentID      string
	SimilarityScore float64
	Vector          []float32 // Set when IncludeVectors was requested
}

// TextResult represents a result from full-text search
type TextResult struct {
	ChunkID    string
	DocumentID string
	BM25Score  float64 // Normalized to (0, 1], higher is better
}
