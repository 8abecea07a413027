package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/spoolworks/spool/internal/observability"
	"github.com/spoolworks/spool/internal/server"
	"github.com/spoolworks/spool/pkg/metrics"
	"github.com/spoolworks/spool/pkg/scheduler"
	"github.com/spoolworks/spool/pkg/state"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduling loop",
	Long: `Poll the configured storage location for job documents and dispatch
them to the built-in consumers until interrupted or idle-timed-out.

Example:
  spool run
  spool run --interval 5s --timeout 10m
  spool run --debug --resume-active`,
	RunE: runRun,
}

var (
	runInterval     time.Duration
	runTimeout      time.Duration
	runDebug        bool
	runResumeActive bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "Override polling interval")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Override idle timeout (0 = run forever)")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Escalate per-job failures and stop")
	runCmd.Flags().BoolVar(&runResumeActive, "resume-active", false, "Return active jobs to planned before the first poll")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := observability.CLILogger

	cdc, registry, err := buildRegistry(log)
	if err != nil {
		return err
	}

	a, err := newAdapter(ctx, cfg, cdc, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	interval := cfg.Scheduler.PollingInterval
	if cmd.Flags().Changed("interval") {
		interval = runInterval
	}
	timeout := cfg.Scheduler.Timeout
	if cmd.Flags().Changed("timeout") {
		timeout = runTimeout
	}

	var callback scheduler.Callback = scheduler.NewLogCallback(log)
	promReg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		callback = metrics.InitCallback(cfg.Metrics.Namespace, promReg, callback)
	}

	client, err := scheduler.New(a, registry,
		scheduler.WithPollingInterval(interval),
		scheduler.WithTimeout(timeout),
		scheduler.WithCallback(callback),
		scheduler.WithLogger(log),
	)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, versionInfo.Version, log,
			server.WithJobs(func(ctx context.Context) (map[state.State][]string, error) {
				return jobsByState(ctx, cfg, log)
			}),
			server.WithMetrics(promReg),
		)
		go func() { serverErr <- srv.Serve(ctx) }()
	}

	runErr := client.Run(ctx, scheduler.RunOptions{
		Debug:        boolFlagOr(cmd.Flags(), "debug", cfg.Scheduler.Debug),
		ResumeActive: boolFlagOr(cmd.Flags(), "resume-active", cfg.Scheduler.ResumeActive),
	})
	stop()

	if cfg.Server.Enabled {
		if err := <-serverErr; err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("status server stopped with error", zap.Error(err))
		}
	}

	if errors.Is(runErr, context.Canceled) {
		log.Info("interrupted, shutting down")
		return nil
	}
	return runErr
}

// boolFlagOr returns the flag's value when it was set on the command line
// and the configured value otherwise, so an explicit --debug=false can
// override a config file that enables debug.
func boolFlagOr(flags *pflag.FlagSet, name string, cfgVal bool) bool {
	if flags.Changed(name) {
		v, _ := flags.GetBool(name)
		return v
	}
	return cfgVal
}
