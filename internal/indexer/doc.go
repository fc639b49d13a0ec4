// Package indexer turns documents into stored, embedded chunks.
//
// A run processes each document through the same pipeline:
//
//  1. Classify: pick a content type and quality score (chunker.Classify)
//  2. Chunk: split with the sizing profile of that content type
//  3. Resplit: break anything above the embedder's hard input limit
//  4. Diff: compare chunk IDs and hashes with what is stored
//  5. Embed: send only new chunks to the embedding provider
//  6. Store: upsert document, chunks and vectors and delete stale chunks in
//     one transaction
//
// Chunk IDs are derived from document ID, source path and chunk text, so
// re-indexing unchanged input writes nothing new and a changed document only
// re-embeds the chunks whose text changed. A document whose content hash
// matches the stored one is skipped before chunking.
//
// # Failures
//
// A failed embedding batch does not stop the run. Its chunks are left out
// and the document is stored with an empty content hash so the next run
// retries them. Config.DegradedZeroVectors stores zero vectors instead,
// which keeps the chunks keyword-searchable at the cost of useless vector
// scores.
//
// # Concurrency
//
// Documents are prepared by a bounded errgroup; transactions are serialized.
// Only one run may be active per Indexer, a second call returns
// ErrIndexingInProgress.
//
//	events := make(chan indexer.Event, 16)
//	go func() {
//	    for e := range events {
//	        log.Printf("%s %d/%d", e.Kind, e.Done, e.Total)
//	    }
//	}()
//	stats, err := idx.IndexDocuments(ctx, docs, &indexer.Config{Prune: true, Product: "server"}, events)
//	close(events)
package indexer
