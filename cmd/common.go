package cmd

import (
	"context"
	"log"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nd-schmidt/pimonitor/internal/app"
	"github.com/nd-schmidt/pimonitor/internal/bus"
	"github.com/nd-schmidt/pimonitor/internal/chat"
	"github.com/nd-schmidt/pimonitor/internal/identity"
	"github.com/nd-schmidt/pimonitor/internal/metrics"
	"github.com/nd-schmidt/pimonitor/internal/model"
	"github.com/nd-schmidt/pimonitor/internal/version"
)

var (
	ErrIdentitySource = errors.New("identity source error")
)

// setup loads the app and returns a context canceled on SIGINT/SIGTERM, the returned
// function flushes telemetry and must be deferred by the caller.
func setup(ctx context.Context, kind model.AppKind) (*app.App, context.Context, func()) {
	pimonitor, err := app.New(kind, cfgFile, logLevel(), experimental)
	if err != nil {
		log.Fatal(err)
	}

	ctx, otelShutdown := otelinit.InitOpenTelemetry(ctx, model.AppName)

	// Setup cancel context with cancel func.
	ctx, cancelFunc := context.WithCancel(ctx)

	// routine listens for termination signal and cancels the context
	go func() {
		<-pimonitor.TermCh
		pimonitor.Logger.Info("got TERM signal, exiting...")
		cancelFunc()
	}()

	return pimonitor, ctx, func() {
		cancelFunc()
		otelShutdown(context.Background())
	}
}

func serveMetrics(cfg *app.Configuration, logger *logrus.Logger) {
	if cfg.Metrics.Disable {
		return
	}

	version.ExportBuildInfoMetric()
	metrics.ListenAndServe(cfg.Metrics.ListenAddress, logger)
}

// loadIdentities snapshots the configured identity directory into a lookup table.
func loadIdentities(ctx context.Context, cfg *app.Configuration, logger *logrus.Logger) (*identity.Table, error) {
	var dir identity.Directory

	switch cfg.Identity.Source {
	case model.IdentitySourceFile:
		file, err := identity.LoadFile(cfg.Identity.File)
		if err != nil {
			return nil, err
		}

		dir = file
	case model.IdentitySourceNATS:
		opts := []nats.Option{
			nats.Name(model.AppName),
			nats.Timeout(cfg.Identity.NatsConnectTimeout),
		}

		if cfg.Identity.NatsCredsFile != "" {
			opts = append(opts, nats.UserCredentials(cfg.Identity.NatsCredsFile))
		}

		nc, err := nats.Connect(cfg.Identity.NatsURL, opts...)
		if err != nil {
			return nil, errors.Wrap(ErrIdentitySource, err.Error())
		}

		// identities are read once at startup
		defer nc.Close()

		directory, err := identity.NewNATSDirectory(ctx, nc, cfg.Identity.Bucket, logger)
		if err != nil {
			return nil, err
		}

		dir = directory
	default:
		return nil, errors.Wrap(ErrIdentitySource, cfg.Identity.Source)
	}

	table, err := identity.Snapshot(ctx, dir)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"source":  cfg.Identity.Source,
		"devices": table.Len(),
	}).Info("device identities loaded")

	return table, nil
}

func connectBus(ctx context.Context, cfg *app.Configuration, logger *logrus.Logger) (*bus.Client, error) {
	client := bus.NewClient(cfg.BusConfig(), logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	return client, nil
}

// newPoster returns the chat poster for the configuration, a bot token is preferred
// over a webhook when preferToken is set.
func newPoster(cfg *app.Configuration, chunkLimit int, preferToken bool, logger *logrus.Logger) chat.Poster {
	if cfg.Experimental {
		return chat.NewDryRunPoster(logger)
	}

	tokenSet := cfg.Slack.Token != "" && cfg.Slack.Channel != ""
	httpClient := chat.NewHTTPClient(logger)

	if cfg.Slack.WebhookURL != "" && (!preferToken || !tokenSet) {
		return chat.NewWebhookPoster(cfg.Slack.WebhookURL, chunkLimit, httpClient, logger)
	}

	return chat.NewSlackPoster(
		chat.SlackOptions{
			Token:   cfg.Slack.Token,
			Channel: cfg.Slack.Channel,
			APIURL:  cfg.Slack.APIURL,
		},
		httpClient,
		logger,
	)
}
