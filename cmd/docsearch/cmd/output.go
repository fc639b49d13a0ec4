package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

const snippetChars = 240

var (
	rankColor    = color.New(color.FgHiBlack)
	titleColor   = color.New(color.Bold)
	sourceColor  = color.New(color.FgHiBlack)
	sectionColor = color.New(color.FgCyan)
	scoreColor   = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	labelColor   = color.New(color.FgBlue)
)

// printResults renders ranked documents with their best chunks
func printResults(w io.Writer, results []types.SearchResult) {
	for _, r := range results {
		rankColor.Fprintf(w, "%2d. ", r.Rank)
		titleColor.Fprint(w, displayTitle(r))
		scoreColor.Fprintf(w, "  %.4f", r.MaxScore)
		if r.Provenance != "" {
			rankColor.Fprintf(w, " [%s]", r.Provenance)
		}
		fmt.Fprintln(w)

		location := r.Metadata.URL
		if location == "" {
			location = r.Metadata.SourcePath
		}
		if tag := productTag(r.Metadata); tag != "" {
			location = tag + "  " + location
		}
		sourceColor.Fprintf(w, "    %s\n", location)

		for _, c := range r.Chunks {
			if c.SectionTitle != "" {
				sectionColor.Fprintf(w, "    § %s", c.SectionTitle)
				if c.ContentType != "" {
					rankColor.Fprintf(w, " (%s)", c.ContentType)
				}
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "      %s\n", snippet(c.Content, snippetChars))
		}
		fmt.Fprintln(w)
	}
}

// printResponse renders a search response including suggestions
func printResponse(w io.Writer, resp *searcher.Response) {
	if len(resp.Results) == 0 {
		warnColor.Fprintln(w, "No results.")
		if len(resp.Suggestions) > 0 {
			fmt.Fprintln(w, "Try:")
			for _, s := range resp.Suggestions {
				fmt.Fprintf(w, "  %s\n", s)
			}
		}
		return
	}

	printResults(w, resp.Results)
	summary := fmt.Sprintf("%d results in %s (%s", resp.TotalResults, resp.Duration.Round(time.Millisecond), resp.Mode)
	if len(resp.Queries) > 1 {
		summary += fmt.Sprintf(", %d queries", len(resp.Queries))
	}
	if resp.CacheHit {
		summary += ", cached"
	}
	rankColor.Fprintln(w, summary+")")
	if len(resp.Degraded) > 0 {
		warnColor.Fprintf(w, "degraded: %s channel unavailable\n", strings.Join(resp.Degraded, ", "))
	}
}

func printIndexEvent(w io.Writer, e indexer.Event) {
	switch e.Kind {
	case indexer.EventIndexed:
		fmt.Fprintf(w, "[%d/%d] %s (%d chunks)\n", e.Done, e.Total, e.SourcePath, e.Chunks)
	case indexer.EventFailed:
		errorColor.Fprintf(w, "[%d/%d] %s: %v\n", e.Done, e.Total, e.SourcePath, e.Err)
	case indexer.EventPruned:
		warnColor.Fprintf(w, "pruned %s\n", e.DocumentID)
	}
}

func printIndexStats(w io.Writer, stats *indexer.Statistics) {
	titleColor.Fprintln(w, "Indexing complete")
	row := func(label string, v any) {
		labelColor.Fprintf(w, "  %-20s", label)
		fmt.Fprintf(w, "%v\n", v)
	}
	row("documents indexed", stats.DocumentsIndexed)
	row("documents skipped", stats.DocumentsSkipped)
	row("documents failed", stats.DocumentsFailed)
	row("documents pruned", stats.DocumentsPruned)
	row("chunks indexed", stats.ChunksIndexed)
	row("chunks unchanged", stats.ChunksUnchanged)
	row("chunks deleted", stats.ChunksDeleted)
	if stats.ChunksUnembedded > 0 {
		warnColor.Fprintf(w, "  %-20s%d\n", "chunks unembedded", stats.ChunksUnembedded)
	}
	row("duration", stats.Duration.Round(time.Millisecond))
}

func printStats(w io.Writer, stats *types.Stats) {
	row := func(label string, v any) {
		labelColor.Fprintf(w, "%-18s", label)
		fmt.Fprintf(w, "%v\n", v)
	}
	row("documents", stats.DocumentCount)
	row("chunks", stats.ChunkCount)
	row("embeddings", stats.EmbeddingCount)
	row("model", stats.ConfiguredModel)
	if len(stats.IndexedModels) > 0 {
		row("indexed models", strings.Join(stats.IndexedModels, ", "))
	}
	for _, m := range stats.IndexedModels {
		if m != stats.ConfiguredModel {
			warnColor.Fprintf(w, "index contains vectors from %s; re-index with --force after changing models\n", m)
		}
	}
	if stats.LastIndexedAt.IsZero() {
		row("last indexed", "never")
	} else {
		row("last indexed", stats.LastIndexedAt.Local().Format(time.RFC3339))
	}

	products := make([]string, 0, len(stats.ProductBreakdown))
	for p := range stats.ProductBreakdown {
		products = append(products, p)
	}
	sort.Strings(products)
	for _, p := range products {
		name := p
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(w, "  %-16s%d\n", name, stats.ProductBreakdown[p])
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func displayTitle(r types.SearchResult) string {
	if r.Metadata.Title != "" {
		return r.Metadata.Title
	}
	return r.Metadata.SourcePath
}

func productTag(m types.Metadata) string {
	if m.Product != "" && m.Version != "" {
		return m.Product + "@" + m.Version
	}
	return m.Product
}

// snippet collapses whitespace and cuts s to at most n runes
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
