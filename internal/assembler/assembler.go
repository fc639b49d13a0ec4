// Package assembler turns a ranked list of chunk hits into a ranked list
// of documents.
package assembler

import (
	"sort"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

// MaxChunksPerDocument is the number of excerpts kept per document
const MaxChunksPerDocument = 3

// Hit is one scored chunk ready for assembly
type Hit struct {
	ChunkID      string
	DocumentID   string
	Content      string
	SectionTitle string
	ContentType  types.ContentType
	Score        float64
	Provenance   types.Provenance
	Metadata     types.Metadata
}

// Assemble groups hits by document, keeps the best chunks of each, orders
// documents by their best chunk score, truncates to limit and applies
// ReorderLostInMiddle. Ranks are 1-based positions in the returned list.
// A limit <= 0 keeps every document.
func Assemble(hits []Hit, limit int) []types.SearchResult {
	if len(hits) == 0 {
		return []types.SearchResult{}
	}

	var order []string
	groups := make(map[string]*group)
	for _, h := range hits {
		if h.DocumentID == "" {
			continue
		}
		g, ok := groups[h.DocumentID]
		if !ok {
			g = &group{metadata: h.Metadata}
			groups[h.DocumentID] = g
			order = append(order, h.DocumentID)
		}
		g.add(h)
	}

	results := make([]types.SearchResult, 0, len(order))
	for _, id := range order {
		results = append(results, groups[id].result(id))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MaxScore > results[j].MaxScore
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	results = ReorderLostInMiddle(results)
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// ReorderLostInMiddle places the best result first and the second best
// last, filling the middle with the rest in descending order. Input must
// already be sorted best first.
func ReorderLostInMiddle(results []types.SearchResult) []types.SearchResult {
	if len(results) < 3 {
		return results
	}
	out := make([]types.SearchResult, 0, len(results))
	out = append(out, results[0])
	out = append(out, results[2:]...)
	out = append(out, results[1])
	return out
}

type group struct {
	chunks     []types.ChunkHit
	seen       map[string]struct{}
	provenance types.Provenance
	metadata   types.Metadata
}

func (g *group) add(h Hit) {
	if g.seen == nil {
		g.seen = make(map[string]struct{})
	}
	g.provenance = g.provenance.Merge(h.Provenance)
	if _, dup := g.seen[h.ChunkID]; dup {
		return
	}
	g.seen[h.ChunkID] = struct{}{}
	g.chunks = append(g.chunks, types.ChunkHit{
		ChunkID:      h.ChunkID,
		Content:      h.Content,
		Score:        h.Score,
		SectionTitle: h.SectionTitle,
		ContentType:  h.ContentType,
	})
}

func (g *group) result(id string) types.SearchResult {
	sort.SliceStable(g.chunks, func(i, j int) bool {
		return g.chunks[i].Score > g.chunks[j].Score
	})
	chunks := g.chunks
	if len(chunks) > MaxChunksPerDocument {
		chunks = chunks[:MaxChunksPerDocument]
	}
	return types.SearchResult{
		DocumentID: id,
		Chunks:     chunks,
		MaxScore:   chunks[0].Score,
		Provenance: g.provenance,
		Metadata:   g.metadata,
	}
}
