package main

import (
	"strings"
	"testing"
	"time"

	"github.com/ccgauge/ccgauge/internal/config"
	"github.com/ccgauge/ccgauge/internal/stats"
	"github.com/ccgauge/ccgauge/internal/usage"
)

func TestFormatLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reset := now.Add(2 * time.Hour)

	tests := []struct {
		name  string
		limit *usage.Limit
		want  []string
	}{
		{"absent", nil, []string{"Five hour:", "-"}},
		{"no reset", &usage.Limit{Percent: 42.3}, []string{"42.3%"}},
		{"with reset", &usage.Limit{Percent: 80, ResetsAt: &reset}, []string{"80.0%", "resets 2 hours from now"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatLimit("Five hour", tt.limit, now)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("formatLimit = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestFormatExtra(t *testing.T) {
	limit := int64(500000)
	tests := []struct {
		name  string
		extra *usage.ExtraUsage
		want  string
	}{
		{"nil", nil, ""},
		{"capped", &usage.ExtraUsage{Currency: "usd", UsedCents: 123456, LimitCents: &limit}, "Extra usage:     1,234.56 USD of 5,000 USD"},
		{"uncapped", &usage.ExtraUsage{UsedCents: 250}, "Extra usage:     2.5 (no cap)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatExtra(tt.extra); got != tt.want {
				t.Errorf("formatExtra = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatSnapshotSkipsAbsentModelWindows(t *testing.T) {
	snap := &usage.Snapshot{
		FiveHour:     &usage.Limit{Percent: 10},
		SevenDayOpus: &usage.Limit{Percent: 3},
	}
	lines := formatSnapshot(snap, time.Now())
	if len(lines) != 3 {
		t.Fatalf("lines = %q, want five hour, seven day, opus", lines)
	}
	if !strings.HasPrefix(lines[2], "Seven day Opus:") {
		t.Errorf("lines[2] = %q", lines[2])
	}
}

func TestFormatDaily(t *testing.T) {
	d := &stats.DailyStats{
		Date:          "2026-02-28",
		Messages:      1234,
		TotalTokens:   17040,
		TokensByModel: map[string]int{"claude-opus": 12000, "claude-sonnet": 5040},
	}
	lines := formatDaily(d)
	joined := strings.Join(lines, "\n")
	for _, w := range []string{"Most recent day (2026-02-28)", "1,234", "17,040", "12,000"} {
		if !strings.Contains(joined, w) {
			t.Errorf("output missing %q:\n%s", w, joined)
		}
	}
	if strings.Index(joined, "claude-opus") > strings.Index(joined, "claude-sonnet") {
		t.Error("models should be listed largest first")
	}
}

func TestPrivacyFilterFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Privacy.MaskMessages = true
	cfg.Privacy.BlockedPaths = []string{"/secret"}

	f := privacyFilter(cfg)
	if !f.MaskMessages || f.IsAllowed("/secret/x") {
		t.Errorf("filter = %+v", f)
	}
}
