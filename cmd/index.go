package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/server"
)

// buildIndex is the index application factory, a variable so tests can
// substitute a stub.
var buildIndex = server.BuildIndex

// newIndexCmd creates and configures the 'index' subcommand.
func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Builds the embedding index from the article store",
		Long: `Embeds every summarized article, writes the flat vector index to
the configured path, and hydrates the article hashes into redis for
the serve command to search against.`,
		RunE: runIndexCommand,
	}
}

func runIndexCommand(cmd *cobra.Command, _ []string) error {
	b, err := resolveBootstrap(cmd.Context())
	if err != nil {
		return err
	}

	app, err := buildIndex(cmd.Context(), b.cfg, b.log)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	defer app.Close(cmd.Context())

	stats, err := app.Run(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run index: %w", err)
	}

	b.log.Info("index finished",
		zap.Int("total", stats.Total),
		zap.Int("indexed", stats.Indexed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return nil
}
