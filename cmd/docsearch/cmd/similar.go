package cmd

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	similarLimit int
	similarJSON  bool
)

var similarCmd = &cobra.Command{
	Use:   "similar [file]",
	Short: "Find documents similar to a file or stdin",
	Example: `  docsearch similar notes/replication-draft.md
  pbpaste | docsearch similar -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimilar,
}

func init() {
	similarCmd.Flags().IntVarP(&similarLimit, "limit", "n", 5, "Maximum number of documents")
	similarCmd.Flags().BoolVar(&similarJSON, "json", false, "Print results as JSON")
	rootCmd.AddCommand(similarCmd)
}

func runSimilar(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return errors.New("no content to compare")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.Searcher.FindSimilar(cmd.Context(), content, similarLimit)
	if err != nil {
		return err
	}
	if similarJSON {
		return printJSON(cmd.OutOrStdout(), results)
	}
	if len(results) == 0 {
		warnColor.Fprintln(cmd.OutOrStdout(), "No similar documents.")
		return nil
	}
	printResults(cmd.OutOrStdout(), results)
	return nil
}
