package stats

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleCache = `{
  "version": 1,
  "dailyActivity": [
    {"date": "2026-02-27", "messageCount": 10, "toolCallCount": 4, "sessionCount": 1},
    {"date": "2026-02-28", "messageCount": 31, "toolCallCount": 12, "sessionCount": 2},
    {"date": "garbage", "messageCount": 999}
  ],
  "dailyModelTokens": [
    {"date": "2026-02-27", "tokensByModel": {"claude-sonnet": 100}},
    {"date": "2026-02-28", "tokensByModel": {"claude-sonnet": 5000, "claude-opus": 12000}},
    {"date": "2026-02-28", "tokensByModel": {"claude-haiku": 40}}
  ]
}`

func writeCache(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats-cache.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestLoadToday(t *testing.T) {
	path := writeCache(t, sampleCache)
	got, err := Load(path, day("2026-02-27"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Date != "2026-02-27" || !got.Today {
		t.Errorf("Date = %s today=%v", got.Date, got.Today)
	}
	if got.Messages != 10 || got.ToolCalls != 4 || got.Sessions != 1 || got.TotalTokens != 100 {
		t.Errorf("stats = %+v", got)
	}
}

func TestLoadFallsBackToMostRecent(t *testing.T) {
	path := writeCache(t, sampleCache)
	got, err := Load(path, day("2026-03-02"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Date != "2026-02-28" || got.Today {
		t.Errorf("Date = %s today=%v, want 2026-02-28 not today", got.Date, got.Today)
	}
	if got.Messages != 31 || got.ToolCalls != 12 || got.Sessions != 2 {
		t.Errorf("activity = %+v", got)
	}
	if got.TotalTokens != 17040 || got.TokensByModel["claude-haiku"] != 40 {
		t.Errorf("tokens = %d %v", got.TotalTokens, got.TokensByModel)
	}

	models := got.Models()
	if len(models) != 3 || models[0].Model != "claude-opus" || models[2].Model != "claude-haiku" {
		t.Errorf("Models = %+v", models)
	}
}

func TestLoadEmpty(t *testing.T) {
	path := writeCache(t, `{"dailyActivity": [], "dailyModelTokens": null}`)
	got, err := Load(path, day("2026-03-01"))
	if err != nil || got != nil {
		t.Errorf("Load(empty) = %+v, %v; want nil, nil", got, err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json"), time.Now()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v, want ErrNotExist", err)
	}
	if _, err := Load(writeCache(t, "{"), time.Now()); err == nil {
		t.Error("invalid JSON should fail")
	}
}
