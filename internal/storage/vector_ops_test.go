package storage

import (
	"context"
	"testing"

	"github.com/dshills/docsearch-mcp/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchFixture struct {
	storage *SQLiteStorage
	ids     map[string]string // label -> chunk ID
}

// setupSearchData stores four chunks across two products with simple 3-d
// embeddings pointing in distinct directions.
func setupSearchData(t *testing.T) *searchFixture {
	t.Helper()
	s := setupTestDB(t)
	ctx := context.Background()

	server := testDocument("server-idx", "server", "manual/indexes.md", "Indexes")
	atlas := testDocument("atlas-search", "atlas", "atlas/search.md", "Atlas Search")
	require.NoError(t, s.UpsertDocument(ctx, server))
	require.NoError(t, s.UpsertDocument(ctx, atlas))

	f := &searchFixture{storage: s, ids: map[string]string{}}
	add := func(label string, doc *Document, index int, content string, ct types.ContentType, vec []float32) {
		c := seedChunk(t, s, doc, index, content, ct)
		f.ids[label] = c.ID
		if vec != nil {
			require.NoError(t, s.UpsertEmbedding(ctx, &Embedding{ChunkID: c.ID, Vector: vec, Provider: "local", Model: "hashing-v1"}))
		}
	}

	add("compound", server, 0, "Compound indexes support queries on multiple fields.", types.ContentTechnical, []float32{1, 0, 0})
	add("ttl", server, 1, "TTL indexes expire documents after a number of seconds.", types.ContentTechnical, []float32{0.8, 0.6, 0})
	add("atlas", atlas, 0, "Atlas Search builds Lucene indexes over collections.", types.ContentConceptual, []float32{0, 1, 0})
	add("meta", atlas, 1, "Release notes and changelog entries.", types.ContentMeta, []float32{0, 0, 1})
	add("unembedded", atlas, 2, "Indexes without vectors are only found by keyword search.", types.ContentMeta, nil)

	return f
}

func chunkIDs(results []VectorResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

func TestSearchVector_Ranking(t *testing.T) {
	f := setupSearchData(t)
	ctx := context.Background()

	results, err := f.storage.SearchVector(ctx, VectorQuery{Vector: []float32{1, 0, 0}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, f.ids["compound"], results[0].ChunkID)
	assert.Equal(t, "server-idx", results[0].DocumentID)
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
	assert.Equal(t, f.ids["ttl"], results[1].ChunkID)
	assert.InDelta(t, 0.8, results[1].SimilarityScore, 1e-6)
	assert.Nil(t, results[0].Vector)

	// Equal scores keep insertion order
	assert.Equal(t, []string{f.ids["atlas"], f.ids["meta"]}, chunkIDs(results[2:]))
}

func TestSearchVector_LimitsAndVectors(t *testing.T) {
	f := setupSearchData(t)
	ctx := context.Background()
	query := []float32{1, 0, 0}

	results, err := f.storage.SearchVector(ctx, VectorQuery{Vector: query, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = f.storage.SearchVector(ctx, VectorQuery{Vector: query, Limit: 10, NumCandidates: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = f.storage.SearchVector(ctx, VectorQuery{Vector: query, Limit: 2, IncludeVectors: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []float32{1, 0, 0}, results[0].Vector)
	assert.Equal(t, []float32{0.8, 0.6, 0}, results[1].Vector)

	results, err = f.storage.SearchVector(ctx, VectorQuery{Vector: query, Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = f.storage.SearchVector(ctx, VectorQuery{Limit: 5})
	assert.ErrorIs(t, err, ErrInvalidEmbedding)
}

func TestSearchVector_SkipsOtherDimensions(t *testing.T) {
	f := setupSearchData(t)
	results, err := f.storage.SearchVector(context.Background(), VectorQuery{Vector: []float32{1, 0}, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchVector_Filters(t *testing.T) {
	f := setupSearchData(t)
	ctx := context.Background()
	query := []float32{1, 0, 0}

	tests := []struct {
		name    string
		filters *SearchFilters
		want    []string
	}{
		{"product", &SearchFilters{Products: []string{"server"}}, []string{"compound", "ttl"}},
		{"content type", &SearchFilters{ContentTypes: []types.ContentType{types.ContentMeta}}, []string{"meta"}},
		{"source glob", &SearchFilters{SourcePattern: "atlas/*"}, []string{"atlas", "meta"}},
		{"version", &SearchFilters{Versions: []string{"6.0"}}, nil},
		{"min relevance", &SearchFilters{MinRelevance: 0.5}, []string{"compound", "ttl"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := f.storage.SearchVector(ctx, VectorQuery{Vector: query, Limit: 10, Filters: tt.filters})
			require.NoError(t, err)

			want := make([]string, 0, len(tt.want))
			for _, label := range tt.want {
				want = append(want, f.ids[label])
			}
			assert.Equal(t, want, chunkIDs(results))
		})
	}
}

func TestSearchText(t *testing.T) {
	f := setupSearchData(t)
	ctx := context.Background()

	results, err := f.storage.SearchText(ctx, TextQuery{Query: "TTL expire", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, f.ids["ttl"], results[0].ChunkID)
	assert.Equal(t, "server-idx", results[0].DocumentID)
	for _, r := range results {
		assert.Greater(t, r.BM25Score, 0.0)
		assert.LessOrEqual(t, r.BM25Score, 1.0)
	}

	// Chunks without embeddings are still keyword-searchable
	results, err = f.storage.SearchText(ctx, TextQuery{Query: "keyword", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, f.ids["unembedded"], results[0].ChunkID)
}

func TestSearchText_Fuzzy(t *testing.T) {
	f := setupSearchData(t)
	ctx := context.Background()

	results, err := f.storage.SearchText(ctx, TextQuery{Query: "expir", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = f.storage.SearchText(ctx, TextQuery{Query: "expir", Fuzzy: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, f.ids["ttl"], results[0].ChunkID)
}

func TestSearchText_FieldsAndFilters(t *testing.T) {
	f := setupSearchData(t)
	ctx := context.Background()

	// "Atlas" appears in the title of every atlas chunk but in the content of one
	results, err := f.storage.SearchText(ctx, TextQuery{Query: "atlas", Fields: []string{FieldContent}, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = f.storage.SearchText(ctx, TextQuery{Query: "atlas", Fields: []string{FieldTitle}, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, results, 3)

	results, err = f.storage.SearchText(ctx, TextQuery{
		Query:   "indexes",
		Limit:   10,
		Filters: &SearchFilters{Products: []string{"server"}},
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "server-idx", r.DocumentID)
	}

	_, err = f.storage.SearchText(ctx, TextQuery{Query: "atlas", Fields: []string{"body"}, Limit: 10})
	assert.Error(t, err)
}

func TestSearchText_OperatorsAreLiteral(t *testing.T) {
	f := setupSearchData(t)
	ctx := context.Background()

	for _, q := range []string{`indexes AND NOT "`, `(ttl OR`, `NEAR(a b)`, `*`, `title:ttl`} {
		_, err := f.storage.SearchText(ctx, TextQuery{Query: q, Limit: 5})
		if q == "*" {
			assert.Error(t, err, "query %q has no terms", q)
			continue
		}
		assert.NoError(t, err, "query %q", q)
	}
}

func TestBuildFTSQuery(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		fields []string
		fuzzy  bool
		want   string
	}{
		{"terms are quoted and or-ed", "Create Index", nil, false, `"create" OR "index"`},
		{"duplicates removed", "index INDEX", nil, false, `"index"`},
		{"fuzzy prefixes long terms", "ttl on db", nil, true, `"ttl"* OR "on" OR "db"`},
		{"column filter", "ttl", []string{FieldContent, FieldTitle}, false, `{content title} : ("ttl")`},
		{"operators stripped", `"a" AND (b)`, nil, false, `"a" OR "and" OR "b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildFTSQuery(tt.query, tt.fields, tt.fuzzy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := buildFTSQuery("  ", nil, false)
	assert.Error(t, err)
}

func TestVectorSerialization(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.75, 0}
	assert.Equal(t, vec, deserializeVector(serializeVector(vec)))
	assert.Empty(t, deserializeVector(nil))
}
