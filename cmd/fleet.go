package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nd-schmidt/pimonitor/internal/model"
	"github.com/nd-schmidt/pimonitor/internal/render"
)

var cmdFleet = &cobra.Command{
	Use:   "fleet",
	Short: "Print the device identity table",
	Run: func(cmd *cobra.Command, args []string) {
		printFleet(cmd.Context())
	},
}

func printFleet(ctx context.Context) {
	pimonitor, ctx, shutdown := setup(ctx, model.AppKindFleet)
	defer shutdown()

	identities, err := loadIdentities(ctx, pimonitor.Config, pimonitor.Logger)
	if err != nil {
		pimonitor.Logger.Fatal(err)
	}

	rows := [][]string{}
	for _, ident := range identities.List() {
		rows = append(rows, []string{ident.FleetID, ident.HardwareAddress})
	}

	fmt.Println(render.Table([]string{"RPI-ID", "MAC"}, rows))
}

func init() {
	rootCmd.AddCommand(cmdFleet)
}
