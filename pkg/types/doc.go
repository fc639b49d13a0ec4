// Package types provides shared type definitions for the docsearch retrieval engine.
//
// This package defines domain types used across multiple components of docsearch,
// including documents, chunks, search results, and index statistics.
//
// # Core Types
//
// Document is an input unit of raw text plus source metadata. Documents are
// produced by acquisition (the loader, or an external fetcher), consumed once by
// the chunker, and never persisted as a whole:
//
//	doc := types.Document{
//	    Content: markdown,
//	    Metadata: types.Metadata{
//	        SourcePath: "manual/indexes.md",
//	        Product:    "manual",
//	        Title:      "Indexes",
//	    },
//	}
//	doc.EnsureID()
//
// Chunk is a bounded substring of a document plus derived metadata. Each chunk
// maps 1:1 to one stored vector+text record and is keyed by a stable,
// content-derived ID so re-indexing is idempotent:
//
//	chunk := types.NewChunk(doc, 0, text)
//	chunk.ContentType = types.ContentTechnical
//
// # Metadata
//
// Metadata is a fixed struct: the fields every record needs are statically
// present, and source-specific extras go in the Extra map.
//
// # Search Results
//
// SearchResult groups the matched chunks of one document:
//
//	result := types.SearchResult{
//	    DocumentID: doc.ID,
//	    Rank:       1,
//	    MaxScore:   0.031,
//	    Provenance: types.ProvenanceBoth,
//	}
//
// Scores are only comparable within a single result list; hybrid search
// produces fused RRF scores, MMR search produces cosine similarities.
package types
