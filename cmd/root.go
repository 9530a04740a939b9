// Package cmd defines the CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zhiwen0/zhiwen/internal/config"
	"github.com/zhiwen0/zhiwen/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "zhiwen",
	Short: "Zhiwen - retrieval-augmented conversational assistant",
	Long: `Zhiwen is a retrieval-augmented conversational assistant.

It answers questions from an indexed knowledge base, keeps per-session
conversation memory, and serves both a CLI and an HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and builds the logger the commands share.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	return cfg, logger, nil
}
