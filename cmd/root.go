package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/feed/config"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "feed",
	Short: "Feed event store",
	Long: `Feed event store for partitioned live-update feeds.

Functions:
- Receive batches of feed messages from Service Bus or HTTP
- Drop messages at or below each partition's last accepted offset
- Append accepted messages to the event log
- Project logged events into the configured read models`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig reads the configuration and applies its logging settings
func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		return config.Config{}, err
	}

	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	if cfg.Logging.Format == "console" || cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}
