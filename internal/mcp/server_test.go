package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args map[string]interface{}) (*mcp.CallToolResult, error) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return h(context.Background(), req)
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.False(t, res.IsError, "unexpected tool error: %v", res.Content)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func errorText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.True(t, res.IsError)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := embedder.NewClient(embedder.NewLocalBackend(64), embedder.ClientOptions{})
	return NewServer(
		searcher.NewSearcher(store, emb, searcher.Options{}),
		indexer.New(store, emb, indexer.Options{}),
		Options{IndexDefaults: indexer.Config{Workers: 2}},
	)
}

func writeDocs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"replication.md": "# Replica Sets\n\nA replica set is a group of mongod processes that maintain the same data set. Replica sets provide redundancy and high availability.\n",
		"sharding.md":    "# Sharding\n\nSharding distributes data across multiple machines. A shard key determines how documents are partitioned.\n",
		"indexes.md":     "# Indexes\n\nIndexes support the efficient execution of queries.\n\n```js\ndb.orders.createIndex({ item: 1 })\n```\n",
		"main.go":        "package main\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func indexDocs(t *testing.T, s *Server, dir string) map[string]interface{} {
	t.Helper()
	res, err := call(t, s.handleIndexDirectory, map[string]interface{}{
		"path":    dir,
		"product": "server",
		"version": "7.0",
	})
	require.NoError(t, err)
	return decode(t, res)
}

func TestToolDefinitions(t *testing.T) {
	tools := []mcp.Tool{hybridSearchTool(), mmrSearchTool(), findSimilarTool(), getStatsTool(), indexDirectoryTool()}
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema.Type)
		for _, req := range tool.InputSchema.Required {
			assert.Contains(t, tool.InputSchema.Properties, req, tool.Name)
		}
	}
	assert.Equal(t, []string{"hybrid_search", "mmr_search", "find_similar", "get_stats", "index_directory"}, names)
}

func TestIndexAndSearch(t *testing.T) {
	s := newTestServer(t)
	dir := writeDocs(t)

	stats := indexDocs(t, s, dir)
	assert.Equal(t, true, stats["indexed"])
	assert.EqualValues(t, 3, stats["documents_loaded"])
	assert.EqualValues(t, 3, stats["documents_indexed"])

	t.Run("hybrid_search", func(t *testing.T) {
		res, err := call(t, s.handleHybridSearch, map[string]interface{}{
			"query": "replica set redundancy",
			"limit": float64(2),
		})
		require.NoError(t, err)
		out := decode(t, res)

		assert.Equal(t, "hybrid", out["mode"])
		results := out["results"].([]interface{})
		require.NotEmpty(t, results)
		assert.LessOrEqual(t, len(results), 2)

		top := results[0].(map[string]interface{})
		assert.Equal(t, "Replica Sets", top["title"])
		assert.EqualValues(t, 1, top["rank"])
		assert.Equal(t, "server", top["product"])
		assert.Equal(t, "7.0", top["version"])
		assert.NotEmpty(t, top["chunks"])
	})

	t.Run("keyword mode with filters", func(t *testing.T) {
		res, err := call(t, s.handleHybridSearch, map[string]interface{}{
			"query":  "shard key",
			"mode":   "keyword",
			"expand": false,
			"filters": map[string]interface{}{
				"products": []interface{}{"server"},
			},
		})
		require.NoError(t, err)
		out := decode(t, res)
		results := out["results"].([]interface{})
		require.NotEmpty(t, results)
		assert.Equal(t, "Sharding", results[0].(map[string]interface{})["title"])
		assert.Equal(t, []interface{}{"shard key"}, out["queries"])
	})

	t.Run("mmr_search", func(t *testing.T) {
		res, err := call(t, s.handleMMRSearch, map[string]interface{}{
			"query":  "data",
			"limit":  float64(3),
			"lambda": 0.3,
		})
		require.NoError(t, err)
		out := decode(t, res)
		assert.Equal(t, "mmr", out["mode"])
		assert.NotEmpty(t, out["results"])
	})

	t.Run("find_similar", func(t *testing.T) {
		res, err := call(t, s.handleFindSimilar, map[string]interface{}{
			"content": "Indexes support the efficient execution of queries.",
			"limit":   float64(1),
		})
		require.NoError(t, err)
		out := decode(t, res)
		results := out["results"].([]interface{})
		require.Len(t, results, 1)
		assert.Equal(t, "Indexes", results[0].(map[string]interface{})["title"])
	})

	t.Run("get_stats", func(t *testing.T) {
		res, err := call(t, s.handleGetStats, nil)
		require.NoError(t, err)
		out := decode(t, res)
		assert.EqualValues(t, 3, out["documents"])
		assert.Equal(t, map[string]interface{}{"server": float64(3)}, out["products"])
		assert.Equal(t, embedder.DefaultLocalModel, out["configured_model"])
		assert.Equal(t, false, out["model_mismatch"])
		assert.NotNil(t, out["last_indexed_at"])
	})

	t.Run("reindex is a no-op", func(t *testing.T) {
		again := indexDocs(t, s, dir)
		assert.EqualValues(t, 0, again["documents_indexed"])
		assert.EqualValues(t, 3, again["documents_skipped"])
	})
}

func TestInvalidParams(t *testing.T) {
	s := newTestServer(t)
	dir := writeDocs(t)

	tests := []struct {
		name string
		h    handler
		args map[string]interface{}
		code int
	}{
		{"missing query", s.handleHybridSearch, map[string]interface{}{}, ErrorCodeEmptyQuery},
		{"limit too large", s.handleHybridSearch, map[string]interface{}{"query": "x", "limit": float64(500)}, ErrorCodeInvalidParams},
		{"bad mode", s.handleHybridSearch, map[string]interface{}{"query": "x", "mode": "fuzzy"}, ErrorCodeInvalidParams},
		{"bad content type", s.handleHybridSearch, map[string]interface{}{
			"query":   "x",
			"filters": map[string]interface{}{"content_types": []interface{}{"recipe"}},
		}, ErrorCodeInvalidParams},
		{"bad min relevance", s.handleHybridSearch, map[string]interface{}{
			"query":   "x",
			"filters": map[string]interface{}{"min_relevance": 2.0},
		}, ErrorCodeInvalidParams},
		{"mmr lambda", s.handleMMRSearch, map[string]interface{}{"query": "x", "lambda": 1.5}, ErrorCodeInvalidParams},
		{"mmr fetch_k", s.handleMMRSearch, map[string]interface{}{"query": "x", "fetch_k": float64(-1)}, ErrorCodeInvalidParams},
		{"missing content", s.handleFindSimilar, map[string]interface{}{"content": ""}, ErrorCodeEmptyQuery},
		{"missing path", s.handleIndexDirectory, map[string]interface{}{}, ErrorCodeInvalidParams},
		{"relative path", s.handleIndexDirectory, map[string]interface{}{"path": "docs"}, ErrorCodeInvalidParams},
		{"file path", s.handleIndexDirectory, map[string]interface{}{"path": filepath.Join(dir, "sharding.md")}, ErrorCodeInvalidParams},
		{"no documents", s.handleIndexDirectory, map[string]interface{}{
			"path":       dir,
			"extensions": []interface{}{".adoc"},
		}, ErrorCodeNoDocuments},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := call(t, tt.h, tt.args)
			assert.Nil(t, res)
			requireCode(t, err, tt.code)
		})
	}

	var req mcp.CallToolRequest
	req.Params.Arguments = "not an object"
	_, err := s.handleHybridSearch(context.Background(), req)
	requireCode(t, err, ErrorCodeInvalidParams)
}

type failingSearcher struct {
	Searcher
	err error
}

func (f *failingSearcher) Search(context.Context, searcher.Request) (*searcher.Response, error) {
	return nil, f.err
}

func (f *failingSearcher) FindSimilar(context.Context, string, int) ([]types.SearchResult, error) {
	return nil, f.err
}

func TestSearchFailureIsToolError(t *testing.T) {
	s := NewServer(&failingSearcher{err: searcher.ErrAllChannelsFailed}, nil, Options{})

	res, err := call(t, s.handleHybridSearch, map[string]interface{}{"query": "replication"})
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "all search channels failed")

	res, err = call(t, s.handleMMRSearch, map[string]interface{}{"query": "replication"})
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "search failed")

	res, err = call(t, s.handleFindSimilar, map[string]interface{}{"content": "replication"})
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "find similar failed")
}

type busyIndexer struct{}

func (busyIndexer) IndexDocuments(context.Context, []types.Document, *indexer.Config, chan<- indexer.Event) (*indexer.Statistics, error) {
	return nil, indexer.ErrIndexingInProgress
}

type recordingIndexer struct {
	config *indexer.Config
	docs   []types.Document
}

func (r *recordingIndexer) IndexDocuments(_ context.Context, docs []types.Document, config *indexer.Config, progress chan<- indexer.Event) (*indexer.Statistics, error) {
	r.docs, r.config = docs, config
	progress <- indexer.Event{Kind: indexer.EventStarted, Total: len(docs)}
	return &indexer.Statistics{
		DocumentsIndexed: len(docs),
		ErrorMessages:    []string{"a", "b", "c", "d", "e", "f", "g"},
	}, nil
}

type countingSearcher struct {
	Searcher
	invalidated int
}

func (c *countingSearcher) InvalidateCache() { c.invalidated++ }

func TestIndexDirectory(t *testing.T) {
	dir := writeDocs(t)

	t.Run("busy", func(t *testing.T) {
		s := NewServer(&countingSearcher{}, busyIndexer{}, Options{})
		_, err := call(t, s.handleIndexDirectory, map[string]interface{}{"path": dir})
		requireCode(t, err, ErrorCodeIndexingInProgress)
	})

	t.Run("options and defaults", func(t *testing.T) {
		cs := &countingSearcher{}
		rec := &recordingIndexer{}
		s := NewServer(cs, rec, Options{
			IndexDefaults: indexer.Config{Workers: 3, DegradedZeroVectors: true},
			Extensions:    []string{".md"},
		})

		res, err := call(t, s.handleIndexDirectory, map[string]interface{}{
			"path":    dir,
			"product": "atlas",
			"force":   true,
			"prune":   true,
		})
		require.NoError(t, err)
		out := decode(t, res)

		require.NotNil(t, rec.config)
		assert.Equal(t, 3, rec.config.Workers)
		assert.True(t, rec.config.DegradedZeroVectors)
		assert.True(t, rec.config.Force)
		assert.True(t, rec.config.Prune)
		assert.Equal(t, "atlas", rec.config.Product)
		assert.Len(t, rec.docs, 3)
		for _, d := range rec.docs {
			assert.Equal(t, "atlas", d.Metadata.Product)
		}

		assert.Equal(t, 1, cs.invalidated)
		assert.Len(t, out["errors"], maxReportedErrors)
		assert.EqualValues(t, 7, out["error_count"])
	})
}

func TestModelMismatch(t *testing.T) {
	assert.False(t, modelMismatch(&types.Stats{ConfiguredModel: "a"}))
	assert.False(t, modelMismatch(&types.Stats{ConfiguredModel: "a", IndexedModels: []string{"a"}}))
	assert.True(t, modelMismatch(&types.Stats{ConfiguredModel: "a", IndexedModels: []string{"a", "b"}}))
}

func TestMCPError(t *testing.T) {
	err := newMCPError(ErrorCodeInvalidParams, "bad", nil)
	assert.Equal(t, "MCP error -32602: bad", err.Error())
	assert.True(t, errors.As(err, new(*MCPError)))
}
