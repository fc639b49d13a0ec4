package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func limitProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "Maximum number of documents to return (1-100)",
		"default":     10,
		"minimum":     1,
		"maximum":     100,
	}
}

func filtersProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Optional filters to narrow search",
		"properties": map[string]interface{}{
			"products": map[string]interface{}{
				"type":        "array",
				"description": "Restrict to these products",
				"items":       map[string]interface{}{"type": "string"},
			},
			"versions": map[string]interface{}{
				"type":        "array",
				"description": "Restrict to these product versions",
				"items":       map[string]interface{}{"type": "string"},
			},
			"content_types": map[string]interface{}{
				"type":        "array",
				"description": "Filter by chunk content type",
				"items": map[string]interface{}{
					"type": "string",
					"enum": []string{"technical", "conceptual", "meta", "example"},
				},
			},
			"source_pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern for source paths (e.g., 'server/guides/*')",
			},
			"min_relevance": map[string]interface{}{
				"type":        "number",
				"description": "Minimum per-channel score threshold (0.0-1.0)",
				"minimum":     0.0,
				"maximum":     1.0,
			},
		},
	}
}

// hybridSearchTool returns the tool definition for hybrid_search
func hybridSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "hybrid_search",
		Description: "Search indexed documentation with combined semantic and keyword retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit":   limitProperty(),
				"filters": filtersProperty(),
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (full text only)",
					"enum":        []string{"hybrid", "vector", "keyword"},
					"default":     "hybrid",
				},
				"expand": map[string]interface{}{
					"type":        "boolean",
					"description": "Also search synonym and abbreviation variants of the query",
					"default":     true,
				},
				"rerank": map[string]interface{}{
					"type":        "boolean",
					"description": "Rerank candidates with the cross-encoder when one is configured",
					"default":     true,
				},
			},
			Required: []string{"query"},
		},
	}
}

// mmrSearchTool returns the tool definition for mmr_search
func mmrSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "mmr_search",
		Description: "Semantic search that trades relevance for diversity (maximal marginal relevance)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"limit": limitProperty(),
				"fetch_k": map[string]interface{}{
					"type":        "integer",
					"description": "Candidates fetched before diversity selection",
					"default":     20,
					"minimum":     1,
				},
				"lambda": map[string]interface{}{
					"type":        "number",
					"description": "1.0 ranks by relevance only, 0.0 by diversity only",
					"default":     0.5,
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"filters": filtersProperty(),
			},
			Required: []string{"query"},
		},
	}
}

// findSimilarTool returns the tool definition for find_similar
func findSimilarTool() mcp.Tool {
	return mcp.Tool{
		Name:        "find_similar",
		Description: "Find documentation similar to a passage of text",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Text to compare against the index",
				},
				"limit": limitProperty(),
			},
			Required: []string{"content"},
		},
	}
}

// getStatsTool returns the tool definition for get_stats
func getStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_stats",
		Description: "Report document, chunk and embedding counts for the index",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// indexDirectoryTool returns the tool definition for index_directory
func indexDirectoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_directory",
		Description: "Index a directory of markdown or text documentation",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the documentation root",
				},
				"product": map[string]interface{}{
					"type":        "string",
					"description": "Product tag stored with every document",
				},
				"version": map[string]interface{}{
					"type":        "string",
					"description": "Product version stored with every document",
				},
				"base_url": map[string]interface{}{
					"type":        "string",
					"description": "Published URL prefix used to build document links",
				},
				"extensions": map[string]interface{}{
					"type":        "array",
					"description": "File extensions to load (default: .md .markdown .mdx .txt .rst)",
					"items":       map[string]interface{}{"type": "string"},
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-chunk documents even when their content is unchanged",
					"default":     false,
				},
				"prune": map[string]interface{}{
					"type":        "boolean",
					"description": "Delete indexed documents of this product that are no longer present",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}
