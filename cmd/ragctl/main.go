package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/immigration-rag/backend/internal/app"
	"github.com/immigration-rag/backend/internal/rag"
	"github.com/immigration-rag/backend/pkg/config"
	"github.com/immigration-rag/backend/pkg/logger"
)

var (
	service *rag.Service
	closeFn func()

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Ingest and query the immigration document index",
	Long: `ragctl runs the enrichment pipeline and retrieval engine against the
configured stores without the HTTP server. Configuration is read from
config.yaml, .env and IMMIGRATION_RAG_* variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		if err := logger.Init(level, "console", "stderr"); err != nil {
			return err
		}

		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		service = a.Service
		closeFn = a.Close
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if closeFn != nil {
			closeFn()
		}
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
