package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nd-schmidt/pimonitor/internal/version"
)

var cmdVersion = &cobra.Command{
	Use:   "version",
	Short: "Print pimonitor version along with dependency information.",
	Run: func(_ *cobra.Command, args []string) {
		v := version.Current()
		fmt.Printf(
			"commit: %s\nbranch: %s\ngit summary: %s\nbuildDate: %s\nversion: %s\nGo version: %s\npaho version: %s\nslack version: %s\n",
			v.GitCommit, v.GitBranch, v.GitSummary, v.BuildDate, v.AppVersion, v.GoVersion, v.PahoVersion, v.SlackVersion)
	},
}

func init() {
	rootCmd.AddCommand(cmdVersion)
}
