package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/commerce/config"
	"example.com/commerce/internal/domain"
)

var (
	cfgFile string
	debug   bool
	cfg     config.Config

	rootCmd = &cobra.Command{
		Use:   "commerce",
		Short: "Event-sourced commerce service",
		Long: `Event-sourced commerce service for users, products, orders, payments and inventory.

Functions:
- Execute commands against event-sourced aggregates with optimistic concurrency
- Publish every committed event on the durable bus and the real-time stream
- Consume point-to-point commands addressed to each service
- Relay events that were persisted but never published`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, then ./app.env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(readEventsCmd)
	rootCmd.AddCommand(republishEventsCmd)
}

// initConfig loads the configuration and applies the process-wide settings
func initConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadConfig(".", cfgFile)
	if err != nil {
		return err
	}

	setupLogging(cfg.Logging)

	policy, err := domain.ParseUnknownEventPolicy(cfg.EventSourcing.UnknownEventPolicy)
	if err != nil {
		return err
	}
	domain.SetUnknownEventPolicy(policy)
	return nil
}

func setupLogging(lc config.LoggingConfig) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if lc.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
