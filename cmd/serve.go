package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TeacherLi07/essayhelper/internal/server"
)

// buildServe is the serve application factory, a variable so tests can
// substitute a stub.
var buildServe = server.Build

// newServeCmd creates and configures the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the search API",
		Long: `Loads the vector index, connects to redis, and serves the HTTP API:
semantic search, article lookup, feedback intake, run history, and
Prometheus metrics. Runs until interrupted.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	b, err := resolveBootstrap(cmd.Context())
	if err != nil {
		return err
	}

	app, err := buildServe(cmd.Context(), b.cfg, b.log)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer app.Close(cmd.Context())

	return app.Run(cmd.Context())
}
