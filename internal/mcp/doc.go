// Package mcp implements the Model Context Protocol (MCP) server for docsearch.
//
// The server exposes the search core to AI assistants as five tools:
//   - hybrid_search: vector and keyword retrieval fused with RRF
//   - mmr_search: diversity-aware semantic search
//   - find_similar: documents similar to a passage of text
//   - get_stats: index counts and embedding model information
//   - index_directory: load and index a documentation tree
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only. Logs go to the configured
// slog handler, which the serve command points at stderr.
//
// # Tool: hybrid_search
//
//	Request:
//	{
//	  "name": "hybrid_search",
//	  "arguments": {
//	    "query": "how do I configure a replica set",
//	    "limit": 5,
//	    "mode": "hybrid",
//	    "filters": {"products": ["server"], "content_types": ["conceptual"]},
//	    "expand": true,
//	    "rerank": true
//	  }
//	}
//
//	Response:
//	{
//	  "mode": "hybrid",
//	  "total_results": 5,
//	  "queries": ["how do I configure a replica set", "how do I configure a replication"],
//	  "results": [
//	    {
//	      "rank": 1,
//	      "title": "Deploy a Replica Set",
//	      "url": "https://example.com/docs/replication/deploy",
//	      "score": 0.0311,
//	      "provenance": "both",
//	      "chunks": [{"section": "Procedure", "content_type": "technical", "score": 0.0311, "content": "..."}]
//	    }
//	  ]
//	}
//
// Each result is one document carrying up to three of its best chunks.
// When nothing matches, the response includes "suggestions": shorter or
// rephrased queries worth trying.
//
// # Tool: mmr_search
//
// Arguments: query, limit, fetch_k (candidates before selection) and
// lambda (1.0 is pure relevance, 0.0 pure diversity; default 0.5).
//
// # Tool: index_directory
//
//	{
//	  "name": "index_directory",
//	  "arguments": {"path": "/srv/docs/server", "product": "server", "version": "7.0", "prune": true}
//	}
//
// Indexing is incremental: unchanged documents are skipped and only changed
// chunks are re-embedded. The search cache is invalidated after every run.
//
// # Errors
//
// Invalid arguments are returned as *MCPError with a JSON-RPC code:
//
//	-32602  invalid parameters (bad limit, mode, filter or path)
//	-32603  internal error
//	-32001  the directory holds no loadable documents
//	-32002  another indexing run is in progress
//	-32004  query or content is empty
//
// A search that fails outright (every retrieval channel errored) is
// reported as a tool result with isError set, so the assistant can read
// the message. A search where only one channel failed still succeeds.
package mcp
