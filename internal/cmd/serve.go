package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/spoolworks/spool/internal/observability"
	"github.com/spoolworks/spool/internal/server"
	"github.com/spoolworks/spool/pkg/state"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status server without the scheduler",
	Long: `Serve the read-only status API (health, version, job counts, metrics)
for a storage location, without consuming any jobs.

Example:
  spool serve
  spool serve --config spool.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := observability.CLILogger

	var opts []server.Option
	opts = append(opts, server.WithJobs(func(ctx context.Context) (map[state.State][]string, error) {
		return jobsByState(ctx, cfg, log)
	}))
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(prometheus.DefaultGatherer))
	}

	srv := server.New(cfg.Server, versionInfo.Version, log, opts...)
	return srv.Serve(ctx)
}
