package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccgauge/ccgauge/internal/clock"
	"github.com/ccgauge/ccgauge/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Fetch plan usage once and print it",
	RunE:  runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openSecrets(cfg)
	if err != nil {
		return err
	}

	poller := usage.NewPoller(cfg.Usage, store, clock.Real{}, nil)
	defer poller.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	snap, err := poller.FetchUsage(ctx)
	if errors.Is(err, usage.ErrNoCredentials) {
		return fmt.Errorf("no session key stored; run 'ccgauge login --session-key ...' first")
	}
	if err != nil {
		return fmt.Errorf("fetching usage (%s): %w", usage.Kind(err), err)
	}

	for _, line := range formatSnapshot(snap, time.Now()) {
		fmt.Println(line)
	}
	return nil
}
