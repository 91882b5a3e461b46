// Command messenger-gateway runs the Messenger webhook gateway and a few
// operator utilities around it.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/messenger-gateway/internal/config"
	"github.com/fpang/messenger-gateway/internal/logging"
)

// Global flags
var (
	configFlag    string
	envFileFlag   []string
	logLevelFlag  string
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "messenger-gateway",
	Short: "Webhook gateway for Facebook Messenger pages",
	Long: `Messenger Gateway receives Messenger Platform webhooks for one or more
Facebook pages, verifies them, and routes each message to the handler
configured for the page it was addressed to.

Configuration is read from messenger-gateway.yaml (or --config) and
MESSENGER_GATEWAY_* environment variables. A .env file in the working
directory is loaded automatically.

Examples:
  messenger-gateway serve
  messenger-gateway serve --addr :3000 --mode sync
  messenger-gateway check --config prod.yaml
  messenger-gateway sign --file payload.json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFileFlag...); err != nil {
			return err
		}
		logging.Init(logLevel(), logFormatFlag)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default ./messenger-gateway.yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&envFileFlag, "env-file", nil, "Env file(s) to load before reading configuration")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format: console or json")

	rootCmd.AddCommand(serveCmd, checkCmd, signCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// logLevel returns the --log-level flag, falling back to LOG_LEVEL so that
// early logging matches what the config will select.
func logLevel() string {
	if logLevelFlag != "" {
		return logLevelFlag
	}
	return logging.EnvOrDefault("LOG_LEVEL", "info")
}

// loadConfig reads configuration and applies the global flag overrides.
// The result is not validated.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadRaw(configFlag)
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if logFormatFlag != "" {
		cfg.Log.Format = logFormatFlag
	}
	return cfg, nil
}
