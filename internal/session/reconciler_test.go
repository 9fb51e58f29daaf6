package session

import (
	"fmt"
	"testing"
	"time"
)

func intp(v int) *int { return &v }

func newTestReconciler() (*Reconciler, *time.Time) {
	now := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	return NewReconciler(func() time.Time { return now }), &now
}

func TestApplyInfoOverwritesPresentFields(t *testing.T) {
	r, _ := newTestReconciler()
	r.Apply(InfoDelta{SessionID: "s1", WorkingDir: "/a", GitBranch: "main"})
	r.Apply(InfoDelta{GitBranch: "feature"})

	st := r.State()
	if st.SessionID != "s1" || st.WorkingDir != "/a" {
		t.Errorf("absent fields were overwritten: %+v", st)
	}
	if st.GitBranch != "feature" {
		t.Errorf("GitBranch = %q, want feature", st.GitBranch)
	}
}

func TestApplyUsagePerField(t *testing.T) {
	r, _ := newTestReconciler()
	r.Apply(UsageDelta{Input: intp(100), Output: intp(50), CacheRead: intp(2000), CacheCreation: intp(500)})

	tests := []struct {
		name  string
		delta UsageDelta
		want  TokenUsage
	}{
		{"only input", UsageDelta{Input: intp(7)}, TokenUsage{Input: 7, Output: 50, CacheRead: 2000, CacheCreation: 500}},
		{"only output", UsageDelta{Output: intp(8)}, TokenUsage{Input: 7, Output: 8, CacheRead: 2000, CacheCreation: 500}},
		{"only cache read", UsageDelta{CacheRead: intp(9)}, TokenUsage{Input: 7, Output: 8, CacheRead: 9, CacheCreation: 500}},
		{"only cache creation", UsageDelta{CacheCreation: intp(0)}, TokenUsage{Input: 7, Output: 8, CacheRead: 9, CacheCreation: 0}},
		{"nothing present", UsageDelta{}, TokenUsage{Input: 7, Output: 8, CacheRead: 9, CacheCreation: 0}},
	}
	for _, tt := range tests {
		r.Apply(tt.delta)
		if got := r.State().Tokens; got != tt.want {
			t.Errorf("%s: Tokens = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestToolStartIsIdempotent(t *testing.T) {
	r, _ := newTestReconciler()
	d := ToolStartDelta{ID: "toolu_1", Name: "Read", Argument: "main.go"}
	r.Apply(d)
	r.Apply(d)

	st := r.State()
	if len(st.ActiveTools) != 1 {
		t.Fatalf("ActiveTools = %d, want 1", len(st.ActiveTools))
	}
	if !st.ActiveTools[0].Running() {
		t.Error("tool should be running")
	}
}

func TestToolCompleteMovesToRecent(t *testing.T) {
	r, now := newTestReconciler()
	r.Apply(ToolStartDelta{ID: "a", Name: "Read", At: *now})
	r.Apply(ToolStartDelta{ID: "b", Name: "Bash", At: *now})
	r.Apply(ToolCompleteDelta{ID: "a", At: now.Add(time.Second)})

	st := r.State()
	if len(st.ActiveTools) != 1 || st.ActiveTools[0].ID != "b" {
		t.Errorf("ActiveTools = %+v, want only b", st.ActiveTools)
	}
	if len(st.RecentTools) != 1 || st.RecentTools[0].ID != "a" {
		t.Fatalf("RecentTools = %+v, want only a", st.RecentTools)
	}
	if st.RecentTools[0].Running() {
		t.Error("completed tool should have EndedAt")
	}
	if !st.RecentTools[0].EndedAt.Equal(now.Add(time.Second)) {
		t.Errorf("EndedAt = %v", st.RecentTools[0].EndedAt)
	}
}

func TestToolCompleteUnknownIsNoop(t *testing.T) {
	r, _ := newTestReconciler()
	r.Apply(ToolStartDelta{ID: "a", Name: "Read"})
	r.Apply(ToolCompleteDelta{ID: "missing"})

	st := r.State()
	if len(st.ActiveTools) != 1 || len(st.RecentTools) != 0 {
		t.Errorf("unexpected state: active=%d recent=%d", len(st.ActiveTools), len(st.RecentTools))
	}
}

func TestRecentToolsCapacity(t *testing.T) {
	r, _ := newTestReconciler()
	for i := 0; i < 11; i++ {
		id := fmt.Sprintf("t%d", i)
		r.Apply(ToolStartDelta{ID: id, Name: "Read"})
		r.Apply(ToolCompleteDelta{ID: id})
	}

	st := r.State()
	if len(st.RecentTools) != RecentToolsCapacity {
		t.Fatalf("RecentTools = %d, want %d", len(st.RecentTools), RecentToolsCapacity)
	}
	if st.RecentTools[0].ID != "t10" {
		t.Errorf("head = %q, want t10 (newest first)", st.RecentTools[0].ID)
	}
	if st.RecentTools[9].ID != "t1" {
		t.Errorf("tail = %q, want t1 (t0 evicted)", st.RecentTools[9].ID)
	}
}

func TestTodoReplaceIsWholesale(t *testing.T) {
	r, _ := newTestReconciler()
	r.Apply(TodoReplaceDelta{Todos: []TodoItem{{Content: "a"}, {Content: "b"}}})
	r.Apply(TodoReplaceDelta{Todos: []TodoItem{{Content: "c", Status: TodoCompleted}}})

	st := r.State()
	if len(st.Todos) != 1 || st.Todos[0].Content != "c" {
		t.Errorf("Todos = %+v, want only c", st.Todos)
	}
}

func TestAgentLifecycle(t *testing.T) {
	r, now := newTestReconciler()
	r.Apply(ToolStartDelta{ID: "task_1", Name: AgentToolName, AgentType: "Explore", AgentDescription: "find the bug", At: *now})
	r.Apply(ToolStartDelta{ID: "task_1", Name: AgentToolName})

	st := r.State()
	if len(st.Agents) != 1 {
		t.Fatalf("Agents = %d, want 1", len(st.Agents))
	}
	if st.RunningAgents() != 1 {
		t.Errorf("RunningAgents() = %d, want 1", st.RunningAgents())
	}
	if st.Agents[0].Type != "Explore" || st.Agents[0].Description != "find the bug" {
		t.Errorf("agent = %+v", st.Agents[0])
	}

	r.Apply(ToolCompleteDelta{ID: "task_1", At: now.Add(time.Minute)})
	st = r.State()
	if st.RunningAgents() != 0 {
		t.Errorf("RunningAgents() after completion = %d, want 0", st.RunningAgents())
	}
	if st.Agents[0].CompletedAt == nil {
		t.Error("agent CompletedAt not set")
	}
}

func TestResetClearsState(t *testing.T) {
	r, _ := newTestReconciler()
	r.Apply(ModelDelta{Model: "claude-opus-4-5"})
	r.Apply(MessageDelta{Text: "hi"})
	r.Apply(ToolStartDelta{ID: "a", Name: "Read"})
	r.SetConnected(true)

	sess := &Session{ID: "/home/u/proj", PID: 7}
	r.Reset(sess)

	st := r.State()
	if st.Model != "" || st.LastMessage != "" || len(st.ActiveTools) != 0 {
		t.Errorf("Reset did not clear state: %+v", st)
	}
	if st.Connected {
		t.Error("Reset should leave state disconnected")
	}
	if st.Session == nil || st.Session.ID != "/home/u/proj" {
		t.Errorf("Session = %+v, want /home/u/proj", st.Session)
	}
	sess.ID = "mutated"
	if r.State().Session.ID != "/home/u/proj" {
		t.Error("Reset kept a reference to the caller's session")
	}
}

func TestStateReturnsCopy(t *testing.T) {
	r, _ := newTestReconciler()
	r.Apply(ToolStartDelta{ID: "a", Name: "Read"})

	st := r.State()
	st.ActiveTools[0].Name = "mutated"
	if r.State().ActiveTools[0].Name != "Read" {
		t.Error("State() leaked internal slice")
	}
}
