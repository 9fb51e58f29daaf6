package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ccgauge/ccgauge/internal/stats"
	"github.com/ccgauge/ccgauge/internal/usage"
)

func formatLimit(name string, l *usage.Limit, now time.Time) string {
	if l == nil {
		return fmt.Sprintf("%-16s -", name+":")
	}
	line := fmt.Sprintf("%-16s %5.1f%%", name+":", l.Percent)
	if l.ResetsAt != nil {
		line += fmt.Sprintf("  resets %s", humanize.RelTime(*l.ResetsAt, now, "ago", "from now"))
	}
	return line
}

func formatCents(cents int64, currency string) string {
	amount := humanize.CommafWithDigits(float64(cents)/100, 2)
	if currency == "" {
		return amount
	}
	return amount + " " + strings.ToUpper(currency)
}

func formatExtra(e *usage.ExtraUsage) string {
	if e == nil {
		return ""
	}
	line := "Extra usage:     " + formatCents(e.UsedCents, e.Currency)
	if e.LimitCents != nil {
		line += " of " + formatCents(*e.LimitCents, e.Currency)
	} else {
		line += " (no cap)"
	}
	return line
}

func formatSnapshot(s *usage.Snapshot, now time.Time) []string {
	lines := []string{
		formatLimit("Five hour", s.FiveHour, now),
		formatLimit("Seven day", s.SevenDay, now),
	}
	if s.SevenDayOpus != nil {
		lines = append(lines, formatLimit("Seven day Opus", s.SevenDayOpus, now))
	}
	if s.SevenDaySonnet != nil {
		lines = append(lines, formatLimit("Seven day Sonnet", s.SevenDaySonnet, now))
	}
	if extra := formatExtra(s.Extra); extra != "" {
		lines = append(lines, extra)
	}
	return lines
}

func formatDaily(d *stats.DailyStats) []string {
	header := "Today (" + d.Date + ")"
	if !d.Today {
		header = "Most recent day (" + d.Date + ")"
	}
	lines := []string{
		header,
		fmt.Sprintf("  Messages:    %s", humanize.Comma(int64(d.Messages))),
		fmt.Sprintf("  Tool calls:  %s", humanize.Comma(int64(d.ToolCalls))),
		fmt.Sprintf("  Sessions:    %s", humanize.Comma(int64(d.Sessions))),
		fmt.Sprintf("  Tokens:      %s", humanize.Comma(int64(d.TotalTokens))),
	}
	for _, m := range d.Models() {
		lines = append(lines, fmt.Sprintf("    %-28s %s", m.Model, humanize.Comma(int64(m.Tokens))))
	}
	return lines
}
