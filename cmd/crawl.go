package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/server"
)

// buildCrawl is the crawl application factory, a variable so tests can
// substitute a stub.
var buildCrawl = server.BuildCrawl

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the configured sources into the article store",
		Long: `Walks the listing pages of every enabled source, fetches the new
articles concurrently, and persists them under the data directory.
Interrupting the run keeps everything fetched so far.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	b, err := resolveBootstrap(cmd.Context())
	if err != nil {
		return err
	}

	app, err := buildCrawl(cmd.Context(), b.cfg, b.log)
	if err != nil {
		return fmt.Errorf("build crawl: %w", err)
	}
	defer app.Close(cmd.Context())

	stats, err := app.Run(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}

	b.log.Info("crawl finished",
		zap.Int("listed", stats.Listed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return nil
}
