package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ccgauge/ccgauge/internal/monitor"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live Claude Code sessions",
	Long: `List the sessions whose lock files name a running process.

The session marked with * is the one serve would follow automatically.`,
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := monitor.NewRegistry(cfg.LockDir(), monitor.ProcessLiveness{})
	reg.Scan()
	sessions := reg.Sessions()
	if len(sessions) == 0 {
		fmt.Println("No live sessions.")
		return nil
	}

	selected := reg.SelectedID()
	for _, s := range sessions {
		marker := " "
		if s.ID == selected {
			marker = "*"
		}
		ide := s.IDEName
		if ide == "" {
			ide = "-"
		}
		fmt.Printf("%s %-24s pid %-7d %-12s %s\n", marker, s.DisplayName(), s.PID, ide, s.ID)
	}
	return nil
}
