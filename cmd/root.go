// Package cmd defines the essayhelper CLI: the crawl, summarize, and
// index pipelines plus serve for the search API.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/logging"
)

var cfgFile string

// bootstrapKeyType is the key for storing the bootstrap in the context.
type bootstrapKeyType string

const bootstrapKey bootstrapKeyType = "bootstrap"

// bootstrap carries what every subcommand needs before building its own
// dependency graph.
type bootstrap struct {
	cfg config.Config
	log *zap.Logger
}

// loadBootstrap is a variable so tests can substitute a canned
// configuration.
var loadBootstrap = func(cfgFile string) (*bootstrap, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	zap.ReplaceGlobals(log)
	return &bootstrap{cfg: cfg, log: log}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "essayhelper",
		Short: "Essay reference search over crawled commentary articles",
		Long: `essayhelper maintains a searchable corpus of commentary articles.
Its pipelines crawl the configured sources, summarize each article
through a remote model, and build the embedding index; serve exposes
semantic search over the result.`,
		SilenceUsage: true,

		// Runs after flag parsing and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			b, err := loadBootstrap(cfgFile)
			if err != nil {
				return err
			}
			ctx := context.WithValue(cmd.Context(), bootstrapKey, b)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if b, ok := cmd.Context().Value(bootstrapKey).(*bootstrap); ok && b != nil {
				_ = b.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and ESSAYHELPER_* env vars apply without one)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSummarizeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// resolveBootstrap pulls the shared config and logger out of the
// command context.
func resolveBootstrap(ctx context.Context) (*bootstrap, error) {
	b, ok := ctx.Value(bootstrapKey).(*bootstrap)
	if !ok || b == nil {
		return nil, errors.New("configuration not initialized")
	}
	return b, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
