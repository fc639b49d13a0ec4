package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

var (
	searchLimit        int
	searchMode         string
	searchProducts     []string
	searchVersions     []string
	searchContentTypes []string
	searchSource       string
	searchNoExpand     bool
	searchNoRerank     bool
	searchLambda       float64
	searchFetchK       int
	searchJSON         bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index",
	Long: `Search indexed documentation.

Modes:
  hybrid   vector and keyword retrieval fused with RRF (default)
  vector   semantic similarity only
  keyword  full-text only
  mmr      semantic search re-ranked for diversity`,
	Example: `  docsearch search "replica set election"
  docsearch search --mode mmr --lambda 0.3 "aggregation pipeline"
  docsearch search --product atlas --type technical "create cluster"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.IntVarP(&searchLimit, "limit", "n", searcher.DefaultLimit, "Maximum number of documents")
	f.StringVarP(&searchMode, "mode", "m", string(searcher.SearchModeHybrid), "Search mode: hybrid, vector, keyword, mmr")
	f.StringSliceVar(&searchProducts, "product", nil, "Restrict to products")
	f.StringSliceVar(&searchVersions, "version", nil, "Restrict to product versions")
	f.StringSliceVar(&searchContentTypes, "type", nil, "Restrict to content types: technical, conceptual, meta, example")
	f.StringVar(&searchSource, "source", "", "Glob over source paths")
	f.BoolVar(&searchNoExpand, "no-expand", false, "Search the query as written, without variants")
	f.BoolVar(&searchNoRerank, "no-rerank", false, "Skip the cross-encoder pass")
	f.Float64Var(&searchLambda, "lambda", searcher.DefaultLambda, "MMR relevance/diversity balance (1 = relevance only)")
	f.IntVar(&searchFetchK, "fetch-k", 0, "MMR candidates before selection (default max(20, 2*limit))")
	f.BoolVar(&searchJSON, "json", false, "Print the raw response as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	req, err := buildSearchRequest(strings.Join(args, " "))
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.Searcher.Search(cmd.Context(), req)
	if err != nil {
		return err
	}
	if searchJSON {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	printResponse(cmd.OutOrStdout(), resp)
	return nil
}

func buildSearchRequest(query string) (searcher.Request, error) {
	mode := searcher.SearchMode(strings.ToLower(searchMode))
	switch mode {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword, searcher.SearchModeMMR:
	default:
		return searcher.Request{}, fmt.Errorf("%w: %s", searcher.ErrUnsupportedMode, searchMode)
	}
	if searchLambda < 0 || searchLambda > 1 {
		return searcher.Request{}, fmt.Errorf("--lambda must be between 0 and 1")
	}

	req := searcher.Request{
		Query:            query,
		Limit:            searchLimit,
		Mode:             mode,
		DisableExpansion: searchNoExpand,
		DisableRerank:    searchNoRerank,
		MMR:              searcher.MMROptions{Limit: searchLimit, FetchK: searchFetchK, LambdaMult: searchLambda},
	}

	filters := &storage.SearchFilters{
		Products:      searchProducts,
		Versions:      searchVersions,
		SourcePattern: searchSource,
	}
	for _, ct := range searchContentTypes {
		t := types.ContentType(strings.ToLower(ct))
		if !t.IsValid() {
			return searcher.Request{}, fmt.Errorf("unknown content type %q", ct)
		}
		filters.ContentTypes = append(filters.ContentTypes, t)
	}
	if len(filters.Products)+len(filters.Versions)+len(filters.ContentTypes) > 0 || filters.SourcePattern != "" {
		req.Filters = filters
	}
	return req, nil
}
