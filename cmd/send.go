package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nd-schmidt/pimonitor/internal/command"
	"github.com/nd-schmidt/pimonitor/internal/model"
)

var cmdSend = &cobra.Command{
	Use:   "send <verb> <fleet-id> [args...]",
	Short: "Publish a command to a device, the reply is posted to the channel by the bot",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		send(cmd.Context(), strings.Join(args, " "))
	},
}

func send(ctx context.Context, text string) {
	pimonitor, ctx, shutdown := setup(ctx, model.AppKindClient)
	defer shutdown()

	cfg := pimonitor.Config
	logger := pimonitor.Logger

	req, err := command.ParseRequest(text)
	if err != nil {
		logger.Fatal(err)
	}

	identities, err := loadIdentities(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}

	client, err := connectBus(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}

	defer client.Close()

	dispatcher := command.NewDispatcher(
		cfg.Namespace,
		command.NewVerbTable(command.DefaultVerbs()...),
		identities,
		client,
		nil,
		logger,
	)

	topic, err := dispatcher.Dispatch(ctx, req)
	if err != nil {
		logger.Fatal(err)
	}

	fmt.Printf("Sending %s command to %s... (%s)\n", req.Verb, req.FleetID, topic)
}

func init() {
	rootCmd.AddCommand(cmdSend)
}
