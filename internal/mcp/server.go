package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "docsearch-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Searcher is the read side of the index exposed as tools
type Searcher interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
	FindSimilar(ctx context.Context, content string, limit int) ([]types.SearchResult, error)
	GetStats(ctx context.Context) (*types.Stats, error)
	InvalidateCache()
}

// Indexer writes documents into the index
type Indexer interface {
	IndexDocuments(ctx context.Context, docs []types.Document, config *indexer.Config, progress chan<- indexer.Event) (*indexer.Statistics, error)
}

// Options configures a Server
type Options struct {
	// IndexDefaults supplies Workers and DegradedZeroVectors for
	// index_directory runs
	IndexDefaults indexer.Config
	Extensions    []string // Default file extensions for index_directory
	Logger        *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	searcher Searcher
	indexer  Indexer
	opts     Options
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(s Searcher, idx Indexer, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	srv := &Server{
		mcp:      mcpServer,
		searcher: s,
		indexer:  idx,
		opts:     opts,
		logger:   logger.With(slog.String("component", "mcp")),
	}
	srv.registerTools()
	return srv
}

// Serve starts the MCP server on stdio and blocks until ctx is canceled or
// stdin is closed
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("serving MCP on stdio")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(hybridSearchTool(), s.handleHybridSearch)
	s.mcp.AddTool(mmrSearchTool(), s.handleMMRSearch)
	s.mcp.AddTool(findSimilarTool(), s.handleFindSimilar)
	s.mcp.AddTool(getStatsTool(), s.handleGetStats)
	s.mcp.AddTool(indexDirectoryTool(), s.handleIndexDirectory)
}
