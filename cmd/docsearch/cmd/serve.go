package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/docsearch-mcp/internal/mcp"
	"github.com/dshills/docsearch-mcp/internal/storage"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Run the MCP server on stdin/stdout. Logs are written to stderr.

With --metrics-addr, Prometheus metrics are served on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for the Prometheus /metrics endpoint (e.g. :9090)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.Logger
	logger.Info("docsearch MCP server starting",
		slog.String("version", version),
		slog.String("build_mode", storage.BuildMode),
		slog.String("driver", storage.DriverName),
		slog.Bool("vector_extension", storage.VectorExtensionAvailable))

	server := mcp.NewServer(a.Searcher, a.Indexer, mcp.Options{
		IndexDefaults: *a.IndexConfig("", false, false),
		Extensions:    a.Config.Index.Extensions,
		Logger:        logger,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", slog.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server error", slog.String("error", err.Error()))
			return err
		}
	}

	logger.Info("server stopped")
	return nil
}
