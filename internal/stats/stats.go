// Package stats summarizes the CLI's daily statistics cache.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

type cacheFile struct {
	DailyActivity    []activityEntry    `json:"dailyActivity"`
	DailyModelTokens []modelTokensEntry `json:"dailyModelTokens"`
}

type activityEntry struct {
	Date          string `json:"date"`
	MessageCount  int    `json:"messageCount"`
	ToolCallCount int    `json:"toolCallCount"`
	SessionCount  int    `json:"sessionCount"`
}

type modelTokensEntry struct {
	Date          string         `json:"date"`
	TokensByModel map[string]int `json:"tokensByModel"`
}

// DailyStats is one day of activity.
type DailyStats struct {
	Date          string         `json:"date"`
	Today         bool           `json:"today"`
	Messages      int            `json:"messages"`
	ToolCalls     int            `json:"toolCalls"`
	Sessions      int            `json:"sessions"`
	TokensByModel map[string]int `json:"tokensByModel"`
	TotalTokens   int            `json:"totalTokens"`
}

type ModelTokens struct {
	Model  string
	Tokens int
}

// Models returns per-model token counts, largest first.
func (d *DailyStats) Models() []ModelTokens {
	out := make([]ModelTokens, 0, len(d.TokensByModel))
	for m, n := range d.TokensByModel {
		out = append(out, ModelTokens{Model: m, Tokens: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tokens != out[j].Tokens {
			return out[i].Tokens > out[j].Tokens
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Load reads the cache at path and summarizes the entry for today's date,
// or the most recent date present when today has none. It returns nil
// stats and no error when the file holds no dated entries.
func Load(path string, today time.Time) (*DailyStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cache cacheFile
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	date, ok := pickDate(cache, today.Format(dateLayout))
	if !ok {
		return nil, nil
	}

	stats := &DailyStats{
		Date:          date,
		Today:         date == today.Format(dateLayout),
		TokensByModel: make(map[string]int),
	}
	for _, a := range cache.DailyActivity {
		if a.Date == date {
			stats.Messages += a.MessageCount
			stats.ToolCalls += a.ToolCallCount
			stats.Sessions += a.SessionCount
		}
	}
	for _, m := range cache.DailyModelTokens {
		if m.Date != date {
			continue
		}
		for model, n := range m.TokensByModel {
			stats.TokensByModel[model] += n
			stats.TotalTokens += n
		}
	}
	return stats, nil
}

// pickDate returns today when any entry carries it, else the latest valid
// date across both lists.
func pickDate(cache cacheFile, today string) (string, bool) {
	var latest string
	consider := func(date string) bool {
		if _, err := time.Parse(dateLayout, date); err != nil {
			return false
		}
		if date == today {
			return true
		}
		if date > latest {
			latest = date
		}
		return false
	}
	for _, a := range cache.DailyActivity {
		if consider(a.Date) {
			return today, true
		}
	}
	for _, m := range cache.DailyModelTokens {
		if consider(m.Date) {
			return today, true
		}
	}
	return latest, latest != ""
}
