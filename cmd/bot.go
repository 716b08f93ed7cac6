package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/nd-schmidt/pimonitor/internal/bot"
	"github.com/nd-schmidt/pimonitor/internal/bus"
	"github.com/nd-schmidt/pimonitor/internal/command"
	"github.com/nd-schmidt/pimonitor/internal/correlator"
	"github.com/nd-schmidt/pimonitor/internal/model"
	"github.com/nd-schmidt/pimonitor/internal/worker"
)

var cmdBot = &cobra.Command{
	Use:   "bot",
	Short: "Serve the slash command and post device command replies to the channel",
	Run: func(cmd *cobra.Command, args []string) {
		runBot(cmd.Context())
	},
}

func runBot(ctx context.Context) {
	pimonitor, ctx, shutdown := setup(ctx, model.AppKindBot)
	defer shutdown()

	cfg := pimonitor.Config
	logger := pimonitor.Logger

	serveMetrics(cfg, logger)

	identities, err := loadIdentities(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}

	client, err := connectBus(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}

	defer client.Close()

	tracker := correlator.NewTracker(time.Now)
	limiter := worker.NewLimiter(cfg.Bot.Concurrency)

	dispatcher := command.NewDispatcher(
		cfg.Namespace,
		command.NewVerbTable(command.DefaultVerbs()...),
		identities,
		client,
		tracker,
		logger,
	)

	replies := correlator.NewHandler(
		correlator.New(correlator.WithFreshness(cfg.Bot.Freshness)),
		identities,
		tracker,
		newPoster(cfg, cfg.Monitor.ChunkLimit, true, logger),
		limiter,
		cfg.Bot.InlineLimit,
		logger,
	)

	b := bot.New(
		client,
		bus.ReplyTopic(cfg.Namespace),
		bot.NewSlashHandler(cfg.Bot.Command, cfg.Slack.SigningSecret, dispatcher, logger),
		replies,
		limiter,
		logger,
	)

	if err := b.Run(ctx, cfg.Bot.ListenAddress); err != nil {
		logger.Fatal(err)
	}
}

func init() {
	rootCmd.AddCommand(cmdBot)
}
