package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/docsearch-mcp/internal/mcp"
	"github.com/dshills/docsearch-mcp/internal/storage"
)

// set with -ldflags "-X github.com/dshills/docsearch-mcp/cmd/docsearch/cmd.version=..."
var (
	version   = "dev"
	buildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s\n", mcp.ServerName)
		fmt.Fprintf(w, "Version: %s\n", version)
		fmt.Fprintf(w, "Build Time: %s\n", buildTime)
		fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
		fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
		fmt.Fprintf(w, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version
}
