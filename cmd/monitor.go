package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/nd-schmidt/pimonitor/internal/aggregator"
	"github.com/nd-schmidt/pimonitor/internal/bus"
	"github.com/nd-schmidt/pimonitor/internal/model"
	"github.com/nd-schmidt/pimonitor/internal/monitor"
	"github.com/nd-schmidt/pimonitor/internal/telemetry"
)

type monitorFlags struct {
	window   time.Duration
	interval time.Duration
}

var (
	monitorFlagSet = &monitorFlags{}
)

var cmdMonitor = &cobra.Command{
	Use:   "monitor",
	Short: "Collect fleet status reports for one window and post the fleet report",
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("window") && monitorFlagSet.window <= 0 {
			cmd.PrintErrln("--window must be positive")
			return
		}

		runMonitor(cmd.Context(), cmd.Flags().Changed("window"), cmd.Flags().Changed("interval"))
	},
}

func runMonitor(ctx context.Context, windowSet, intervalSet bool) {
	pimonitor, ctx, shutdown := setup(ctx, model.AppKindMonitor)
	defer shutdown()

	cfg := pimonitor.Config
	logger := pimonitor.Logger

	if windowSet {
		cfg.Monitor.Window = monitorFlagSet.window
	}

	if intervalSet {
		cfg.Monitor.Interval = monitorFlagSet.interval
	}

	serveMetrics(cfg, logger)

	identities, err := loadIdentities(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}

	policy, err := cfg.ClassifyPolicy()
	if err != nil {
		logger.Fatal(err)
	}

	dedup, err := cfg.DedupPolicy()
	if err != nil {
		logger.Fatal(err)
	}

	client, err := connectBus(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}

	defer client.Close()

	store := aggregator.NewStore(dedup)
	pipeline := aggregator.NewPipeline(
		telemetry.NewNormalizer(telemetry.WithResolver(identities)),
		policy,
		store,
		logger,
	)

	collector := aggregator.NewCollector(
		client,
		bus.TelemetryTopic(cfg.Namespace),
		pipeline,
		store,
		logger,
		aggregator.WithWindow(cfg.Monitor.Window),
	)

	m := monitor.New(
		collector,
		newPoster(cfg, cfg.Monitor.ChunkLimit, false, logger),
		logger,
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithUsername(cfg.Monitor.Username),
		monitor.WithChunkLimit(cfg.Monitor.ChunkLimit),
	)

	if err := m.Run(ctx); err != nil {
		logger.WithError(err).Error("fleet report failed")
	}
}

func init() {
	cmdMonitor.Flags().DurationVar(&monitorFlagSet.window, "window", aggregator.DefaultWindow, "collection window to wait for status reports")
	cmdMonitor.Flags().DurationVar(&monitorFlagSet.interval, "interval", 0, "repeat the report at this interval, by default a single report is posted")

	rootCmd.AddCommand(cmdMonitor)
}
