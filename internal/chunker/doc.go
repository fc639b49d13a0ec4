// Package chunker divides documentation into bounded retrieval units for embedding and search.
//
// Chunks follow the structure of the document: markdown headers (and short
// capitalised plain-text lines that act as headers) start sections, and fenced
// code blocks are kept intact whenever they fit.
//
// # Basic Usage
//
//	ct, quality := chunker.Classify(doc)
//	opts := chunker.ProfileFor(ct)
//	opts.Quality = quality
//
//	c := chunker.New()
//	chunks, err := c.Chunk(doc, opts)
//	if err != nil {
//	    return err // only for empty documents
//	}
//
// # Chunking Strategy
//
// For each section:
//   - A section that fits the target size becomes one chunk.
//   - Larger sections are segmented into sentences which are accumulated until
//     the next sentence would exceed the target. Trailing sentences worth up to
//     Overlap tokens are repeated at the start of the next chunk.
//   - With PreserveCode, a code block that fits MaxSize is its own unit.
//     Larger blocks are split on line boundaries and re-fenced.
//
// Chunks below MinSize are merged into a neighbour when the result stays
// within MaxSize. Documents with fewer than three sentences are not segmented.
//
// If section parsing fails (an unterminated code fence), Chunk falls back to
// ChunkPlain, the same sentence accumulation without section or code awareness.
//
// # Adaptive Sizing
//
// ProfileFor returns sizes tuned per content classification:
//
//	technical   target 300  max 500  min 50   overlap 0
//	example     target 400  max 800  min 50   overlap 0
//	conceptual  target 600  max 900  min 100  overlap 100
//	meta        target 300  max 500  min 30   overlap 0
//	(default)   target 512  max 1024 min 64   overlap 50
//
// Token estimation uses a simple heuristic (chars/4).
//
// # Content Hashing
//
// Each chunk carries a SHA-256 hash of its content and an ID derived from the
// document ID, source path and content. Re-chunking an unchanged document
// yields the same IDs, which makes re-indexing idempotent.
package chunker
