package types

import "time"

// Provenance records which search channel matched a result
type Provenance string

const (
	ProvenanceVector Provenance = "vector"
	ProvenanceText   Provenance = "text"
	ProvenanceBoth   Provenance = "both"
)

// Merge combines two provenance tags; vector and text become both
func (p Provenance) Merge(other Provenance) Provenance {
	switch {
	case p == "":
		return other
	case other == "" || p == other:
		return p
	default:
		return ProvenanceBoth
	}
}

// ChunkHit is one matched chunk inside a search result
type ChunkHit struct {
	ChunkID      string
	Content      string
	Score        float64
	SectionTitle string
	ContentType  ContentType
}

// SearchResult represents one document with its best matching chunks
type SearchResult struct {
	// Identification
	DocumentID string
	Rank       int // Position in result set (1-based)

	// Matches, best first, at most three
	Chunks []ChunkHit

	// Scoring
	MaxScore   float64
	Provenance Provenance

	Metadata Metadata
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.DocumentID == "" {
		return ErrMissingDocumentID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.MaxScore < 0 {
		return ErrInvalidRelevanceScore
	}

	if len(sr.Chunks) == 0 {
		return ErrEmptyContent
	}

	return nil
}

// Stats summarises the contents of the index
type Stats struct {
	LastIndexedAt    time.Time
	DocumentCount    int
	ChunkCount       int
	EmbeddingCount   int
	ProductBreakdown map[string]int
	ConfiguredModel  string
	IndexedModels    []string
}
