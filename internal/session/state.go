package session

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// ContextWindow is the token budget the context percentage is
	// measured against.
	ContextWindow = 200000

	// RecentToolsCapacity bounds the completed-tool ring buffer.
	RecentToolsCapacity = 10
)

// Session describes one live CLI session as published in its lock-file
// descriptor.
type Session struct {
	ID               string   `json:"id"`
	PID              int      `json:"pid"`
	WorkspaceFolders []string `json:"workspaceFolders"`
	IDEName          string   `json:"ideName"`
	Transport        string   `json:"transport,omitempty"`
	RunningInWindows bool     `json:"runningInWindows,omitempty"`
}

// SessionID derives the identity of a session: its first workspace folder,
// or the PID when no folder is known.
func SessionID(pid int, folders []string) string {
	if len(folders) > 0 && folders[0] != "" {
		return folders[0]
	}
	return strconv.Itoa(pid)
}

// ProjectKey is the directory-safe form of the workspace path that names the
// session's log directory.
func (s Session) ProjectKey() string {
	return ProjectKey(s.ID)
}

// ProjectKey replaces path separators and dots with dashes, so
// /home/u/my.app becomes -home-u-my-app.
func ProjectKey(path string) string {
	return strings.NewReplacer("/", "-", ".", "-").Replace(path)
}

// DisplayName is the last component of the session's workspace path.
func (s Session) DisplayName() string {
	base := filepath.Base(s.ID)
	if base == "." || base == "/" || base == "" {
		return s.ID
	}
	return base
}

type TokenUsage struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	CacheRead     int `json:"cacheRead"`
	CacheCreation int `json:"cacheCreation"`
}

func (t TokenUsage) Total() int {
	return t.Input + t.Output + t.CacheRead + t.CacheCreation
}

// ContextPercent is Total as a share of ContextWindow, capped at 100.
func (t TokenUsage) ContextPercent() float64 {
	p := float64(t.Total()) / float64(ContextWindow) * 100
	if p > 100 {
		return 100
	}
	return p
}

type ToolExecution struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Argument  string     `json:"argument,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

func (t ToolExecution) Running() bool {
	return t.EndedAt == nil
}

func (t ToolExecution) clone() ToolExecution {
	if t.EndedAt != nil {
		e := *t.EndedAt
		t.EndedAt = &e
	}
	return t
}

type TodoStatus int

const (
	TodoPending TodoStatus = iota
	TodoInProgress
	TodoCompleted
)

var todoStatusNames = map[TodoStatus]string{
	TodoPending:    "pending",
	TodoInProgress: "in_progress",
	TodoCompleted:  "completed",
}

var todoStatusFromName = map[string]TodoStatus{
	"pending":     TodoPending,
	"in_progress": TodoInProgress,
	"completed":   TodoCompleted,
}

// ParseTodoStatus maps a status string to a TodoStatus. Unrecognized values
// are treated as pending.
func ParseTodoStatus(s string) TodoStatus {
	if v, ok := todoStatusFromName[s]; ok {
		return v
	}
	return TodoPending
}

func (s TodoStatus) String() string {
	if n, ok := todoStatusNames[s]; ok {
		return n
	}
	return "pending"
}

func (s TodoStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *TodoStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s = ParseTodoStatus(name)
	return nil
}

type TodoItem struct {
	Content    string     `json:"content"`
	Status     TodoStatus `json:"status"`
	ActiveForm string     `json:"activeForm,omitempty"`
}

// AgentInfo tracks a sub-agent launched through the Task tool. Its ID is the
// tool-call id of the launching tool_use block.
type AgentInfo struct {
	ID          string     `json:"id"`
	Type        string     `json:"type,omitempty"`
	Description string     `json:"description,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (a AgentInfo) clone() AgentInfo {
	if a.CompletedAt != nil {
		c := *a.CompletedAt
		a.CompletedAt = &c
	}
	return a
}

// SessionState is the reconciled view of the selected session.
type SessionState struct {
	Session       *Session        `json:"session,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	Model         string          `json:"model,omitempty"`
	WorkingDir    string          `json:"workingDir,omitempty"`
	GitBranch     string          `json:"gitBranch,omitempty"`
	Tokens        TokenUsage      `json:"tokens"`
	LastMessage   string          `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time      `json:"lastMessageAt,omitempty"`
	ActiveTools   []ToolExecution `json:"activeTools"`
	RecentTools   []ToolExecution `json:"recentTools"`
	Agents        []AgentInfo     `json:"agents"`
	Todos         []TodoItem      `json:"todos"`
	Connected     bool            `json:"connected"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy of the SessionState, duplicating pointer and
// slice fields so the copy can be mutated independently of the original.
func (s *SessionState) Clone() *SessionState {
	c := *s
	if s.Session != nil {
		sess := *s.Session
		sess.WorkspaceFolders = append([]string(nil), s.Session.WorkspaceFolders...)
		c.Session = &sess
	}
	if s.LastMessageAt != nil {
		t := *s.LastMessageAt
		c.LastMessageAt = &t
	}
	c.ActiveTools = cloneTools(s.ActiveTools)
	c.RecentTools = cloneTools(s.RecentTools)
	c.Agents = make([]AgentInfo, len(s.Agents))
	for i, a := range s.Agents {
		c.Agents[i] = a.clone()
	}
	c.Todos = append(make([]TodoItem, 0, len(s.Todos)), s.Todos...)
	return &c
}

func cloneTools(tools []ToolExecution) []ToolExecution {
	out := make([]ToolExecution, len(tools))
	for i, t := range tools {
		out[i] = t.clone()
	}
	return out
}

// ContextPercent is a convenience for Tokens.ContextPercent.
func (s *SessionState) ContextPercent() float64 {
	return s.Tokens.ContextPercent()
}

// RunningAgents counts agents that have not completed yet.
func (s *SessionState) RunningAgents() int {
	n := 0
	for _, a := range s.Agents {
		if a.CompletedAt == nil {
			n++
		}
	}
	return n
}
