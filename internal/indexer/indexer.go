package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/docsearch-mcp/internal/chunker"
	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// ErrIndexingInProgress is returned when a run is already active
var ErrIndexingInProgress = errors.New("indexing already in progress")

// Indexer coordinates the indexing pipeline:
// classify -> chunk -> diff -> embed -> store
type Indexer struct {
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	storage  storage.Storage
	metrics  *metrics.Metrics
	logger   *slog.Logger
	lock     IndexLock
}

// Options configures an Indexer
type Options struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Config contains configuration for one indexing run
type Config struct {
	Workers int  // Documents prepared concurrently (default: runtime.NumCPU())
	Force   bool // Re-chunk documents whose content hash is unchanged

	// Prune deletes stored documents of Product that are absent from the
	// input. An empty Product prunes across all products.
	Prune   bool
	Product string

	// DegradedZeroVectors stores a zero vector for chunks whose embedding
	// batch failed instead of leaving them out of the index
	DegradedZeroVectors bool
}

// EventKind identifies a progress event
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventIndexed  EventKind = "indexed"
	EventSkipped  EventKind = "skipped"
	EventFailed   EventKind = "failed"
	EventPruned   EventKind = "pruned"
	EventFinished EventKind = "finished"
)

// Event reports progress of a run
type Event struct {
	Kind       EventKind
	DocumentID string
	SourcePath string
	Done       int // Documents processed so far
	Total      int
	Chunks     int // Chunks written for this document
	Err        error
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	DocumentsIndexed int
	DocumentsSkipped int
	DocumentsFailed  int
	DocumentsPruned  int
	ChunksIndexed    int // Newly embedded and stored
	ChunksUnchanged  int
	ChunksDeleted    int
	ChunksUnembedded int // Left out (or zero-filled) after embedding failures
	Duration         time.Duration
	ErrorMessages    []string
}

// maxInputTokener is implemented by embedders with a hard input limit
type maxInputTokener interface {
	MaxInputTokens() int
}

// New creates a new Indexer instance
func New(store storage.Storage, emb embedder.Embedder, opts Options) *Indexer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Indexer{
		chunker:  chunker.New(),
		embedder: emb,
		storage:  store,
		metrics:  opts.Metrics,
		logger:   logger.With(slog.String("component", "indexer")),
	}
}

// IndexDocuments indexes docs incrementally. Unchanged documents are
// skipped, only new chunks are embedded and chunks that disappeared are
// deleted. Per-document failures are recorded in the statistics and do not
// stop the run; the returned error is reserved for cancellation, a busy
// indexer and storage failures outside a single document.
//
// progress, when non-nil, receives events until the run returns. Sends
// block, so the caller must drain it.
func (idx *Indexer) IndexDocuments(ctx context.Context, docs []types.Document, config *Config, progress chan<- Event) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	if config == nil {
		config = &Config{}
	}
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}
	run := &runState{idx: idx, config: config, stats: stats, progress: progress, total: len(docs)}

	run.emit(ctx, Event{Kind: EventStarted, Total: len(docs)})

	seen := make(map[string]struct{}, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range docs {
		doc := docs[i]
		doc.Metadata = doc.Metadata.Clone()
		doc.EnsureID()
		if _, dup := seen[doc.ID]; dup {
			run.fail(gctx, &doc, fmt.Errorf("duplicate document ID %s", doc.ID))
			continue
		}
		seen[doc.ID] = struct{}{}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := idx.indexDocument(gctx, run, &doc); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				run.fail(gctx, &doc, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if config.Prune {
		if err := idx.prune(ctx, run, seen); err != nil {
			return nil, fmt.Errorf("failed to prune documents: %w", err)
		}
	}

	stats.Duration = time.Since(startTime)
	idx.metrics.ChunksIndexed("indexed", stats.ChunksIndexed)
	idx.metrics.ChunksIndexed("unchanged", stats.ChunksUnchanged)
	idx.metrics.ChunksIndexed("deleted", stats.ChunksDeleted)
	idx.metrics.ChunksIndexed("unembedded", stats.ChunksUnembedded)

	indexRun := &storage.IndexRun{
		Product:        config.Product,
		Documents:      len(docs),
		ChunksIndexed:  stats.ChunksIndexed,
		ChunksSkipped:  stats.ChunksUnchanged,
		ChunksDeleted:  stats.ChunksDeleted,
		EmbeddingModel: idx.embedder.Model(),
		StartedAt:      startTime,
		FinishedAt:     time.Now(),
	}
	if err := idx.storage.RecordIndexRun(ctx, indexRun); err != nil {
		return nil, err
	}

	idx.logger.Info("indexing finished",
		slog.Int("indexed", stats.DocumentsIndexed),
		slog.Int("skipped", stats.DocumentsSkipped),
		slog.Int("failed", stats.DocumentsFailed),
		slog.Int("chunks", stats.ChunksIndexed),
		slog.Duration("duration", stats.Duration))
	run.emit(ctx, Event{Kind: EventFinished, Done: run.done, Total: len(docs)})
	return stats, nil
}

// IsIndexing reports whether a run is in progress
func (idx *Indexer) IsIndexing() bool {
	return idx.lock.Held()
}

// indexDocument processes one document end to end
func (idx *Indexer) indexDocument(ctx context.Context, run *runState, doc *types.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	contentHash := doc.ContentHash()

	existing, err := idx.storage.GetDocument(ctx, doc.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if existing != nil && existing.ContentHash == contentHash && !run.config.Force {
		run.skip(ctx, doc, existing.ChunkCount)
		return nil
	}

	chunks, contentType, err := idx.prepareChunks(doc)
	if err != nil {
		return err
	}

	stored, err := idx.storage.ListChunkHashes(ctx, doc.ID)
	if err != nil {
		return err
	}

	current := make(map[string]struct{}, len(chunks))
	var fresh []int
	for i := range chunks {
		current[chunks[i].ID] = struct{}{}
		if h, ok := stored[chunks[i].ID]; ok && h == chunks[i].ContentHash {
			continue
		}
		fresh = append(fresh, i)
	}
	var stale []string
	for id := range stored {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}

	vectors, unembedded := idx.embedChunks(ctx, chunks, fresh, run.config.DegradedZeroVectors)
	if err := ctx.Err(); err != nil {
		return err
	}

	record := &storage.Document{
		ID:          doc.ID,
		Metadata:    doc.Metadata,
		ContentHash: contentHash,
		ContentType: contentType,
		ChunkCount:  len(chunks),
	}
	// An incomplete document must not look up to date on the next run
	if len(unembedded) > 0 && !run.config.DegradedZeroVectors {
		record.ContentHash = [32]byte{}
		record.ChunkCount -= len(unembedded)
	}

	written, err := idx.write(ctx, run, record, chunks, vectors, unembedded, stale)
	if err != nil {
		return err
	}

	run.indexed(ctx, doc, written, len(chunks)-len(fresh), len(stale), len(unembedded))
	return nil
}

// prepareChunks classifies and chunks doc, then re-splits anything over the
// embedder's input limit
func (idx *Indexer) prepareChunks(doc *types.Document) ([]types.Chunk, types.ContentType, error) {
	contentType, quality := chunker.Classify(doc)
	opts := chunker.ProfileFor(contentType)
	opts.Quality = quality

	chunks, err := idx.chunker.Chunk(doc, opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to chunk document: %w", err)
	}

	maxTokens := 0
	if m, ok := idx.embedder.(maxInputTokener); ok {
		maxTokens = m.MaxInputTokens()
	}

	out := make([]types.Chunk, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		for _, part := range chunker.Resplit(c, maxTokens) {
			if _, dup := seen[part.ID]; dup {
				continue
			}
			seen[part.ID] = struct{}{}
			part.Index = len(out)
			out = append(out, part)
		}
	}
	return out, contentType, nil
}

// embedChunks embeds the chunks at positions fresh. Chunks from failed
// batches are returned in unembedded unless zero vectors are allowed.
func (idx *Indexer) embedChunks(ctx context.Context, chunks []types.Chunk, fresh []int, zeroFill bool) (map[string][]float32, map[string]struct{}) {
	vectors := make(map[string][]float32, len(fresh))
	unembedded := make(map[string]struct{})
	if len(fresh) == 0 {
		return vectors, unembedded
	}

	texts := make([]string, len(fresh))
	for j, i := range fresh {
		texts[j] = chunks[i].Content
	}

	embeddings, err := idx.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		idx.logger.Warn("embedding failed for some chunks",
			slog.String("document", chunks[fresh[0]].DocumentID),
			slog.String("error", err.Error()))
	}

	for j, i := range fresh {
		id := chunks[i].ID
		if j < len(embeddings) && embeddings[j] != nil {
			vectors[id] = embeddings[j].Vector
			continue
		}
		if zeroFill {
			vectors[id] = make([]float32, idx.embedder.Dimension())
			unembedded[id] = struct{}{}
			continue
		}
		unembedded[id] = struct{}{}
	}
	return vectors, unembedded
}

// write replaces the stored state of one document in a single transaction.
// Writes are serialized; preparation runs concurrently.
func (idx *Indexer) write(ctx context.Context, run *runState, record *storage.Document, chunks []types.Chunk,
	vectors map[string][]float32, unembedded map[string]struct{}, stale []string) (int, error) {
	run.writeMu.Lock()
	defer run.writeMu.Unlock()

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.UpsertDocument(ctx, record); err != nil {
		return 0, err
	}

	zeroFill := run.config.DegradedZeroVectors
	written := 0
	for i := range chunks {
		c := &chunks[i]
		if _, skip := unembedded[c.ID]; skip && !zeroFill {
			continue
		}
		if err := tx.UpsertChunk(ctx, c); err != nil {
			return 0, err
		}
		vec, ok := vectors[c.ID]
		if !ok {
			continue // unchanged chunk keeps its stored embedding
		}
		if err := tx.UpsertEmbedding(ctx, &storage.Embedding{
			ChunkID:  c.ID,
			Vector:   vec,
			Provider: idx.embedder.Provider(),
			Model:    idx.embedder.Model(),
		}); err != nil {
			return 0, err
		}
		if _, zero := unembedded[c.ID]; !zero {
			written++
		}
	}

	if _, err := tx.DeleteChunks(ctx, stale); err != nil {
		return 0, fmt.Errorf("failed to delete stale chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return written, nil
}

// prune deletes stored documents that were not part of this run
func (idx *Indexer) prune(ctx context.Context, run *runState, keep map[string]struct{}) error {
	ids, err := idx.storage.ListDocumentIDs(ctx, run.config.Product)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			continue
		}
		doc, err := idx.storage.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if err := idx.storage.DeleteDocument(ctx, id); err != nil {
			return err
		}
		run.stats.DocumentsPruned++
		run.stats.ChunksDeleted += doc.ChunkCount
		run.emit(ctx, Event{Kind: EventPruned, DocumentID: id, SourcePath: doc.Metadata.SourcePath, Total: run.total})
	}
	return nil
}

// runState holds the shared counters of one run
type runState struct {
	idx      *Indexer
	config   *Config
	progress chan<- Event
	total    int

	writeMu sync.Mutex // Serializes transactions

	mu    sync.Mutex // Protects stats and done
	stats *Statistics
	done  int
}

func (r *runState) emit(ctx context.Context, e Event) {
	if r.progress == nil {
		return
	}
	select {
	case r.progress <- e:
	case <-ctx.Done():
	}
}

func (r *runState) skip(ctx context.Context, doc *types.Document, chunks int) {
	r.mu.Lock()
	r.stats.DocumentsSkipped++
	r.stats.ChunksUnchanged += chunks
	r.done++
	e := Event{Kind: EventSkipped, DocumentID: doc.ID, SourcePath: doc.Metadata.SourcePath, Done: r.done, Total: r.total}
	r.mu.Unlock()
	r.emit(ctx, e)
}

func (r *runState) indexed(ctx context.Context, doc *types.Document, written, unchanged, deleted, unembedded int) {
	r.mu.Lock()
	r.stats.DocumentsIndexed++
	r.stats.ChunksIndexed += written
	r.stats.ChunksUnchanged += unchanged
	r.stats.ChunksDeleted += deleted
	r.stats.ChunksUnembedded += unembedded
	r.done++
	e := Event{Kind: EventIndexed, DocumentID: doc.ID, SourcePath: doc.Metadata.SourcePath, Done: r.done, Total: r.total, Chunks: written}
	r.mu.Unlock()
	r.emit(ctx, e)
}

func (r *runState) fail(ctx context.Context, doc *types.Document, err error) {
	r.idx.logger.Warn("document failed",
		slog.String("document", doc.ID),
		slog.String("source", doc.Metadata.SourcePath),
		slog.String("error", err.Error()))

	r.mu.Lock()
	r.stats.DocumentsFailed++
	r.stats.ErrorMessages = append(r.stats.ErrorMessages, fmt.Sprintf("%s: %v", doc.Metadata.SourcePath, err))
	r.done++
	e := Event{Kind: EventFailed, DocumentID: doc.ID, SourcePath: doc.Metadata.SourcePath, Done: r.done, Total: r.total, Err: err}
	r.mu.Unlock()
	r.emit(ctx, e)
}
