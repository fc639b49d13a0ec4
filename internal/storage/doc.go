// Package storage is the vector and text index: SQLite tables for
// documents, chunks and embeddings plus an FTS5 index over chunk content,
// section titles and document titles.
//
// # Database Schema
//
// Tables:
//   - documents: one row per source document, keyed by document ID
//   - chunks: chunk text and quality fields, keyed by the stable chunk ID
//   - chunks_fts: FTS5 index kept in sync by triggers
//   - embeddings: one vector per chunk with the model that produced it
//   - index_runs: bookkeeping for completed indexing passes
//
// Deleting a document cascades to its chunks and embeddings.
//
// # Writes
//
// Every write is an upsert keyed by a content-derived ID, so replaying the
// same input never duplicates rows. Use a transaction to replace a
// document's chunks atomically:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	if err := tx.UpsertDocument(ctx, doc); err != nil {
//	    return err
//	}
//	for i := range chunks {
//	    if err := tx.UpsertChunk(ctx, &chunks[i]); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// # Search
//
// SearchVector ranks chunks by cosine similarity. Builds with the
// sqlite_vec tag compute the distance in SQL through the sqlite-vec
// extension; the default pure Go build scans embeddings of the query's
// dimension and scores them in Go.
//
// SearchText runs a BM25 query. Terms are quoted before they reach FTS5 and
// OR-ed together; Fuzzy relaxes terms to prefix matches. Scores are mapped to
// (0, 1] with 1/(1+|bm25|/50) so both channels report higher-is-better.
//
// Both searches accept SearchFilters over product, version, content type
// and a GLOB over source paths.
//
// # Build Modes
//
// Pure Go (default):
//
//	go build ./...
//
// CGO with sqlite-vec:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
package storage
