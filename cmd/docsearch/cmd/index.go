package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/loader"
)

var (
	indexProduct    string
	indexVersion    string
	indexBaseURL    string
	indexForce      bool
	indexPrune      bool
	indexExtensions []string
	indexWorkers    int
	indexQuiet      bool
)

var indexCmd = &cobra.Command{
	Use:   "index <directory>",
	Short: "Index a directory of documentation",
	Long: `Load markdown and text files from a directory and index them.

Runs are incremental: unchanged documents are skipped and only changed
chunks are re-embedded. --prune removes documents of the same product
that no longer exist on disk.`,
	Example: `  docsearch index ./docs --product server --version 7.0
  docsearch index ./atlas-docs --product atlas --base-url https://example.com/atlas --prune`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVarP(&indexProduct, "product", "p", "", "Product tag stored with every document")
	indexCmd.Flags().StringVar(&indexVersion, "version", "", "Product version stored with every document")
	indexCmd.Flags().StringVar(&indexBaseURL, "base-url", "", "URL prefix used to build document links")
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "Re-chunk documents even when unchanged")
	indexCmd.Flags().BoolVar(&indexPrune, "prune", false, "Delete indexed documents of this product that are no longer present")
	indexCmd.Flags().StringSliceVar(&indexExtensions, "ext", nil, "File extensions to load (default .md,.markdown,.mdx,.txt,.rst)")
	indexCmd.Flags().IntVarP(&indexWorkers, "workers", "w", 0, "Documents prepared concurrently (default from config or CPU count)")
	indexCmd.Flags().BoolVarP(&indexQuiet, "quiet", "q", false, "Only print the summary")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	extensions := indexExtensions
	if len(extensions) == 0 {
		extensions = a.Config.Index.Extensions
	}
	docs, err := loader.LoadDirectory(root, loader.Options{
		Product:    indexProduct,
		Version:    indexVersion,
		BaseURL:    indexBaseURL,
		Extensions: extensions,
	})
	if err != nil {
		return err
	}

	config := a.IndexConfig(indexProduct, indexForce, indexPrune)
	if indexWorkers > 0 {
		config.Workers = indexWorkers
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexing %d documents from %s\n", len(docs), root)

	progress := make(chan indexer.Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range progress {
			if !indexQuiet || e.Kind == indexer.EventFailed {
				printIndexEvent(out, e)
			}
		}
	}()
	stats, err := a.Indexer.IndexDocuments(cmd.Context(), docs, config, progress)
	close(progress)
	<-done
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	printIndexStats(out, stats)
	if stats.DocumentsFailed > 0 {
		return fmt.Errorf("%d documents failed to index", stats.DocumentsFailed)
	}
	return nil
}
