package cmd

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nd-schmidt/pimonitor/internal/model"
)

var (
	cfgFile      string
	logLevelFlag string
	experimental bool
)

var rootCmd = &cobra.Command{
	Use:   model.AppName,
	Short: "Monitor a fleet of Raspberry Pi devices over MQTT and command them from Slack",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func logLevel() int {
	switch strings.ToLower(logLevelFlag) {
	case "debug":
		return model.LogLevelDebug
	case "trace":
		return model.LogLevelTrace
	case "", "info":
		return model.LogLevelInfo
	default:
		log.Fatalf("unknown --log-level %q, expected one of info, debug, trace", logLevelFlag)
	}

	return model.LogLevelInfo
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file (default is none, environment variables with the PIMONITOR_ prefix apply)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level - info, debug, trace")
	rootCmd.PersistentFlags().BoolVar(&experimental, "experimental", false, "experimental mode, chat posts are logged instead of sent and the slash command is /piexp")
}
