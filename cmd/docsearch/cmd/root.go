package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/docsearch-mcp/internal/app"
	"github.com/dshills/docsearch-mcp/internal/config"
	"github.com/dshills/docsearch-mcp/internal/logging"
)

var (
	// configPath is the TOML config file (defaults to $DOCSEARCH_CONFIG or ~/.docsearch/config.toml)
	configPath string
	// dbPath overrides db_path from the config
	dbPath string
	// verbose enables debug logging
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docsearch",
	Short: "Hybrid semantic and keyword search over documentation",
	Long: `docsearch indexes documentation into a local SQLite index and answers
queries with vector and full-text retrieval fused by reciprocal rank fusion.

It runs as an MCP server for AI assistants or directly from the terminal.

Examples:
  # Index a documentation tree
  docsearch index ./docs --product server --version 7.0

  # Search it
  docsearch search "how do I add a replica set member"

  # Serve the MCP tools on stdio
  docsearch serve`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (defaults to $DOCSEARCH_CONFIG or ~/.docsearch/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the index database (overrides db_path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadConfig applies command line overrides on top of file and environment
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = config.ExpandHome(dbPath)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// newLogger writes to stderr so stdout stays free for results and MCP
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(cfg.LogLevel, os.Stderr)
}

// openApp loads configuration and builds the application
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}
