// Package cmd implements the newspipe command-line interface: the work
// queue coordinator, extraction workers, discovery and verification runs,
// and operational helpers.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/newspipe/internal/config"
	"github.com/jonesrussell/newspipe/internal/logger"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "newspipe",
	Short: "News crawl scheduling pipeline",
	Long: `newspipe discovers article URLs from news sources, verifies them,
and extracts article content through a domain-paced work queue.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	// Load .env early so every command sees the same environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(coordinatorCommand())
	rootCmd.AddCommand(workerCommand())
	rootCmd.AddCommand(discoverCommand())
	rootCmd.AddCommand(verifyCommand())
	rootCmd.AddCommand(housekeepCommand())
	rootCmd.AddCommand(statsCommand())
	rootCmd.AddCommand(migrateCommand())
}

// loadConfig loads configuration and builds the process logger.
func loadConfig() (*config.Config, logger.Interface, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	encoding := "console"
	if cfg.LogJSON {
		encoding = "json"
	}

	log := logger.New(logger.Config{Level: level, Encoding: encoding})

	return cfg, log, nil
}
