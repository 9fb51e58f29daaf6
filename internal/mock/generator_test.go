package mock

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ccgauge/ccgauge/internal/monitor"
	"github.com/ccgauge/ccgauge/internal/session"
)

func readLines(t *testing.T, path string) [][]byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return lines
}

func TestSetupIsDiscoverable(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator(dir, time.Second, 1)
	if err := g.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	reg := monitor.NewRegistry(filepath.Join(dir, "ide"), monitor.ProcessLiveness{})
	reg.Scan()
	sel, ok := reg.Selected()
	if !ok || sel.ID != g.Workspace() || sel.PID != os.Getpid() {
		t.Fatalf("selected = %+v, %v", sel, ok)
	}

	path, err := monitor.FindLogFile(filepath.Join(dir, "projects"), sel)
	if err != nil {
		t.Fatalf("FindLogFile: %v", err)
	}
	if path != g.LogPath() {
		t.Errorf("log = %s, want %s", path, g.LogPath())
	}
}

func TestTicksReconcileIntoSessionState(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator(dir, time.Second, 7)
	if err := g.Setup(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		if err := g.Tick(); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}

	lines := readLines(t, g.LogPath())
	if len(lines) != 16 {
		t.Fatalf("wrote %d lines, want 16", len(lines))
	}

	now := time.Now()
	parser := monitor.NewParser(func() time.Time { return now })
	rec := session.NewReconciler(func() time.Time { return now })
	for i, line := range lines {
		deltas := parser.Parse(line)
		if len(deltas) == 0 {
			t.Errorf("line %d produced no deltas: %s", i, line)
		}
		rec.ApplyAll(deltas)
	}

	st := rec.State()
	if st.Model != mockModel || st.WorkingDir != g.Workspace() || st.GitBranch != "main" {
		t.Errorf("info = model %q dir %q branch %q", st.Model, st.WorkingDir, st.GitBranch)
	}
	if st.Tokens.Total() == 0 {
		t.Error("token usage was never applied")
	}
	if len(st.Todos) != len(todoScript) {
		t.Errorf("todos = %d, want %d", len(st.Todos), len(todoScript))
	}
	if len(st.RecentTools) == 0 {
		t.Error("no tool call completed")
	}
	if len(st.Agents) != 1 || st.Agents[0].CompletedAt == nil {
		t.Errorf("agents = %+v, want one completed agent", st.Agents)
	}
	if st.LastMessage == "" {
		t.Error("no message preview")
	}
}

func TestUsageCompacts(t *testing.T) {
	g := NewGenerator(t.TempDir(), time.Second, 3)
	prev := g.cacheRd
	compacted := false
	for i := 0; i < 200; i++ {
		g.usage()
		if g.cacheRd > maxContext {
			t.Fatalf("context %d exceeds %d", g.cacheRd, maxContext)
		}
		if g.cacheRd < prev {
			compacted = true
		}
		prev = g.cacheRd
	}
	if !compacted {
		t.Error("context never compacted")
	}
}
