package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccgauge/ccgauge/internal/config"
	"github.com/ccgauge/ccgauge/internal/secrets"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ccgauge",
	Short: "Live gauge for Claude Code sessions and plan usage",
	Long: `ccgauge - follow the active Claude Code session and your plan usage

It tails the selected session's log, polls the usage endpoints and
publishes both to display clients over a websocket.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file")
}

func setVersion(version, commit, date string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openSecrets(cfg *config.Config) (*secrets.FileStore, error) {
	path := cfg.Secrets.Path
	if path == "" {
		var err error
		path, err = secrets.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("locating secret store: %w", err)
		}
	}
	return secrets.NewFileStore(path), nil
}
