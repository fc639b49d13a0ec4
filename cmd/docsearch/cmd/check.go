package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/fusion"
)

const checkText = "Replica sets provide redundancy and high availability."

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the embedding provider and index configuration",
	Long: `Embed a short sample text with the configured provider and report the
model, dimension and latency. Fails when the provider is unreachable or
the index holds vectors from a different model.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	emb := a.Embedder
	fmt.Fprintf(out, "Provider: %s\nModel: %s\n", emb.Provider(), emb.Model())

	start := time.Now()
	docs, err := emb.EmbedDocuments(cmd.Context(), []string{checkText})
	if err != nil {
		errorColor.Fprintf(out, "document embedding failed: %v\n", err)
		return err
	}
	query, err := emb.EmbedQuery(cmd.Context(), checkText)
	if err != nil {
		errorColor.Fprintf(out, "query embedding failed: %v\n", err)
		return err
	}
	fmt.Fprintf(out, "Dimension: %d\nLatency: %s\n", len(query.Vector), time.Since(start).Round(time.Millisecond))
	if emb.Provider() != embedder.ProviderLocal {
		fmt.Fprintf(out, "Document/query similarity: %.4f\n", fusion.Cosine(docs[0].Vector, query.Vector))
	}

	stats, err := a.Searcher.GetStats(cmd.Context())
	if err != nil {
		return err
	}
	for _, m := range stats.IndexedModels {
		if m != stats.ConfiguredModel {
			err := fmt.Errorf("index contains vectors from model %s, configured model is %s", m, stats.ConfiguredModel)
			errorColor.Fprintln(out, err)
			return err
		}
	}
	scoreColor.Fprintln(out, "OK")
	return nil
}
