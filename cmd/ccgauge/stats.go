package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccgauge/ccgauge/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's activity from the CLI's stats cache",
	Long: `Summarize the CLI's daily statistics cache.

Shows today's message, tool call and token counts, or the most recent
day in the cache when today has no entry yet.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	daily, err := stats.Load(cfg.StatsCachePath(), time.Now())
	if errors.Is(err, os.ErrNotExist) {
		fmt.Printf("No stats cache at %s\n", cfg.StatsCachePath())
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	if daily == nil {
		fmt.Println("Stats cache has no dated entries.")
		return nil
	}

	for _, line := range formatDaily(daily) {
		fmt.Println(line)
	}
	return nil
}
