package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/loader"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeNoDocuments        = -32001 // Specified path contains no loadable documents
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

const maxReportedErrors = 5

// handleHybridSearch handles the hybrid_search tool invocation
func (s *Server) handleHybridSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, err := requireQuery(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := parseLimit(args)
	if err != nil {
		return nil, err
	}

	mode := searcher.SearchMode(getStringDefault(args, "mode", string(searcher.SearchModeHybrid)))
	switch mode {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	filters, err := parseFilters(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.Search(ctx, searcher.Request{
		Query:            query,
		Limit:            limit,
		Mode:             mode,
		Filters:          filters,
		DisableExpansion: !getBoolDefault(args, "expand", true),
		DisableRerank:    !getBoolDefault(args, "rerank", true),
		UseCache:         true,
	})
	if err != nil {
		s.logger.Warn("search failed", slog.String("query", query), slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(searchResponse(resp))), nil
}

// handleMMRSearch handles the mmr_search tool invocation
func (s *Server) handleMMRSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, err := requireQuery(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := parseLimit(args)
	if err != nil {
		return nil, err
	}

	fetchK := getIntDefault(args, "fetch_k", 0)
	if fetchK < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "fetch_k must be positive", map[string]interface{}{
			"param": "fetch_k",
			"value": fetchK,
		})
	}
	lambda := getFloatDefault(args, "lambda", searcher.DefaultLambda)
	if lambda < 0 || lambda > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "lambda must be between 0 and 1", map[string]interface{}{
			"param": "lambda",
			"value": lambda,
		})
	}

	filters, err := parseFilters(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.Search(ctx, searcher.Request{
		Query:    query,
		Limit:    limit,
		Mode:     searcher.SearchModeMMR,
		Filters:  filters,
		MMR:      searcher.MMROptions{Limit: limit, FetchK: fetchK, LambdaMult: lambda},
		UseCache: true,
	})
	if err != nil {
		s.logger.Warn("mmr search failed", slog.String("query", query), slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(searchResponse(resp))), nil
}

// handleFindSimilar handles the find_similar tool invocation
func (s *Server) handleFindSimilar(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	content, err := requireQuery(args, "content")
	if err != nil {
		return nil, err
	}
	limit, err := parseLimit(args)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := s.searcher.FindSimilar(ctx, content, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("find similar failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"total_results": len(results),
		"duration_ms":   time.Since(start).Milliseconds(),
		"results":       formatResults(results),
	})), nil
}

// handleGetStats handles the get_stats tool invocation
func (s *Server) handleGetStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.searcher.GetStats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get stats", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"documents":         stats.DocumentCount,
		"chunks":            stats.ChunkCount,
		"embeddings":        stats.EmbeddingCount,
		"products":          stats.ProductBreakdown,
		"configured_model":  stats.ConfiguredModel,
		"indexed_models":    stats.IndexedModels,
		"model_mismatch":    modelMismatch(stats),
		"last_indexed_at":   nil,
		"embedding_covered": stats.ChunkCount == stats.EmbeddingCount,
	}
	if !stats.LastIndexedAt.IsZero() {
		response["last_indexed_at"] = stats.LastIndexedAt.Format(time.RFC3339)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexDirectory handles the index_directory tool invocation
func (s *Server) handleIndexDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	extensions := getStringSlice(args, "extensions")
	if len(extensions) == 0 {
		extensions = s.opts.Extensions
	}
	product := getStringDefault(args, "product", "")

	docs, err := loader.LoadDirectory(path, loader.Options{
		Product:    product,
		Version:    getStringDefault(args, "version", ""),
		BaseURL:    getStringDefault(args, "base_url", ""),
		Extensions: extensions,
	})
	if errors.Is(err, loader.ErrNoDocuments) {
		return nil, newMCPError(ErrorCodeNoDocuments, "no documents found", map[string]interface{}{
			"path":       path,
			"extensions": extensions,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to load documents", map[string]interface{}{
			"error": err.Error(),
		})
	}

	config := s.opts.IndexDefaults
	config.Force = getBoolDefault(args, "force", false)
	config.Prune = getBoolDefault(args, "prune", false)
	config.Product = product

	progress := make(chan indexer.Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range progress {
			s.logger.Debug("index progress",
				slog.String("event", string(e.Kind)),
				slog.String("source", e.SourcePath),
				slog.Int("done", e.Done),
				slog.Int("total", e.Total))
		}
	}()
	stats, err := s.indexer.IndexDocuments(ctx, docs, &config, progress)
	close(progress)
	<-done

	if errors.Is(err, indexer.ErrIndexingInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.searcher.InvalidateCache()

	response := map[string]interface{}{
		"indexed":           true,
		"documents_loaded":  len(docs),
		"documents_indexed": stats.DocumentsIndexed,
		"documents_skipped": stats.DocumentsSkipped,
		"documents_failed":  stats.DocumentsFailed,
		"documents_pruned":  stats.DocumentsPruned,
		"chunks_indexed":    stats.ChunksIndexed,
		"chunks_unchanged":  stats.ChunksUnchanged,
		"chunks_deleted":    stats.ChunksDeleted,
		"chunks_unembedded": stats.ChunksUnembedded,
		"duration_ms":       stats.Duration.Milliseconds(),
	}
	if n := len(stats.ErrorMessages); n > 0 {
		if n > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = n
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

func searchResponse(resp *searcher.Response) map[string]interface{} {
	out := map[string]interface{}{
		"mode":          resp.Mode,
		"total_results": resp.TotalResults,
		"duration_ms":   resp.Duration.Milliseconds(),
		"cache_hit":     resp.CacheHit,
		"queries":       resp.Queries,
		"results":       formatResults(resp.Results),
	}
	if len(resp.Suggestions) > 0 {
		out["suggestions"] = resp.Suggestions
	}
	return out
}

func formatResults(results []types.SearchResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		chunks := make([]map[string]interface{}, 0, len(r.Chunks))
		for _, c := range r.Chunks {
			chunks = append(chunks, map[string]interface{}{
				"section":      c.SectionTitle,
				"content_type": c.ContentType,
				"score":        roundScore(c.Score),
				"content":      c.Content,
			})
		}
		item := map[string]interface{}{
			"rank":        r.Rank,
			"document_id": r.DocumentID,
			"title":       r.Metadata.Title,
			"source_path": r.Metadata.SourcePath,
			"score":       roundScore(r.MaxScore),
			"chunks":      chunks,
		}
		if r.Provenance != "" {
			item["provenance"] = r.Provenance
		}
		if r.Metadata.URL != "" {
			item["url"] = r.Metadata.URL
		}
		if r.Metadata.Product != "" {
			item["product"] = r.Metadata.Product
		}
		if r.Metadata.Version != "" {
			item["version"] = r.Metadata.Version
		}
		out = append(out, item)
	}
	return out
}

func roundScore(v float64) float64 {
	return float64(int64(v*1e4+0.5)) / 1e4
}

// modelMismatch reports whether the index holds vectors from a model other
// than the configured one
func modelMismatch(stats *types.Stats) bool {
	for _, m := range stats.IndexedModels {
		if m != stats.ConfiguredModel {
			return true
		}
	}
	return false
}

func requireQuery(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", newMCPError(ErrorCodeEmptyQuery, key+" parameter is required and cannot be empty", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return v, nil
}

func parseLimit(args map[string]interface{}) (int, error) {
	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return 0, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}
	return limit, nil
}

func parseFilters(args map[string]interface{}) (*storage.SearchFilters, error) {
	raw, ok := args["filters"].(map[string]interface{})
	if !ok || len(raw) == 0 {
		return nil, nil
	}

	f := &storage.SearchFilters{
		Products:      getStringSlice(raw, "products"),
		Versions:      getStringSlice(raw, "versions"),
		SourcePattern: getStringDefault(raw, "source_pattern", ""),
		MinRelevance:  getFloatDefault(raw, "min_relevance", 0),
	}
	for _, ct := range getStringSlice(raw, "content_types") {
		t := types.ContentType(ct)
		if !t.IsValid() {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid content type", map[string]interface{}{
				"param":   "filters.content_types",
				"value":   ct,
				"allowed": []string{"technical", "conceptual", "meta", "example"},
			})
		}
		f.ContentTypes = append(f.ContentTypes, t)
	}
	if f.MinRelevance < 0 || f.MinRelevance > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "min_relevance must be between 0 and 1", map[string]interface{}{
			"param": "filters.min_relevance",
			"value": f.MinRelevance,
		})
	}
	return f, nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice accepts both decoded JSON arrays and []string
func getStringSlice(args map[string]interface{}, key string) []string {
	switch val := args[key].(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
