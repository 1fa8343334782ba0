package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/server"
)

// buildSummarize is the summarize application factory, a variable so
// tests can substitute a stub.
var buildSummarize = server.BuildSummarize

// newSummarizeCmd creates and configures the 'summarize' subcommand.
func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Summarizes stored articles through the configured model",
		Long: `Scans the article store for entries without a summary and fills
them in through the remote model, pacing calls so the endpoint is
never hammered. Articles that already carry a summary are skipped,
so reruns only pay for what the last run missed.`,
		RunE: runSummarizeCommand,
	}
}

func runSummarizeCommand(cmd *cobra.Command, _ []string) error {
	b, err := resolveBootstrap(cmd.Context())
	if err != nil {
		return err
	}

	app, err := buildSummarize(cmd.Context(), b.cfg, b.log)
	if err != nil {
		return fmt.Errorf("build summarize: %w", err)
	}
	defer app.Close(cmd.Context())

	stats, err := app.Run(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run summarize: %w", err)
	}

	b.log.Info("summarize finished",
		zap.Int("total", stats.Total),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return nil
}
