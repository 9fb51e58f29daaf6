package monitor

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccgauge/ccgauge/internal/session"
)

const (
	// TodoToolName is the tool that rewrites the session's todo list.
	TodoToolName = "TodoWrite"

	messagePreviewLen = 100
	argumentLen       = 50
)

// Every level of a log line is decoded into raw fields first so that one
// malformed or unexpectedly typed field never discards its siblings.
type rawObject map[string]json.RawMessage

type todoInput struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm"`
}

// Parser turns log lines into deltas. It never fails: lines that are not
// JSON objects or carry no recognized fields produce no deltas.
type Parser struct {
	now func() time.Time
}

func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{now: now}
}

func (p *Parser) Parse(line []byte) []session.Delta {
	top, ok := decodeObject(line)
	if !ok {
		return nil
	}

	var deltas []session.Delta

	info := session.InfoDelta{
		SessionID:  stringField(top, "sessionId"),
		WorkingDir: stringField(top, "cwd"),
		GitBranch:  stringField(top, "gitBranch"),
	}
	if info != (session.InfoDelta{}) {
		deltas = append(deltas, info)
	}

	msg, ok := decodeObject(top["message"])
	if !ok {
		return deltas
	}

	if model := stringField(msg, "model"); model != "" {
		deltas = append(deltas, session.ModelDelta{Model: model})
	}

	if usage, ok := decodeObject(msg["usage"]); ok {
		d := session.UsageDelta{
			Input:         intField(usage, "input_tokens"),
			Output:        intField(usage, "output_tokens"),
			CacheRead:     intField(usage, "cache_read_input_tokens"),
			CacheCreation: intField(usage, "cache_creation_input_tokens"),
		}
		if d != (session.UsageDelta{}) {
			deltas = append(deltas, d)
		}
	}

	var content []json.RawMessage
	if err := json.Unmarshal(msg["content"], &content); err != nil {
		return deltas
	}

	role := stringField(msg, "role")
	for _, raw := range content {
		item, ok := decodeObject(raw)
		if !ok {
			continue
		}
		deltas = append(deltas, p.parseContent(role, item)...)
	}
	return deltas
}

func (p *Parser) parseContent(role string, item rawObject) []session.Delta {
	switch stringField(item, "type") {
	case "text":
		if preview := messagePreview(stringField(item, "text")); preview != "" {
			return []session.Delta{session.MessageDelta{Text: preview, At: p.now()}}
		}
	case "tool_use":
		return p.parseToolUse(item)
	case "tool_result":
		if role != "user" {
			return nil
		}
		if id := stringField(item, "tool_use_id"); id != "" {
			return []session.Delta{session.ToolCompleteDelta{ID: id, At: p.now()}}
		}
	}
	return nil
}

func (p *Parser) parseToolUse(item rawObject) []session.Delta {
	id := stringField(item, "id")
	name := stringField(item, "name")
	if id == "" && name == "" {
		return nil
	}
	input, _ := decodeObject(item["input"])

	start := session.ToolStartDelta{
		ID:       id,
		Name:     name,
		Argument: toolArgument(input),
		At:       p.now(),
	}
	if name == session.AgentToolName {
		start.AgentType = stringField(input, "subagent_type")
		start.AgentDescription = stringField(input, "description")
	}
	deltas := []session.Delta{start}

	if name == TodoToolName {
		if todos, ok := parseTodos(input); ok {
			deltas = append(deltas, session.TodoReplaceDelta{Todos: todos})
		}
	}
	return deltas
}

// toolArgument picks a short display argument from a tool's input. The
// first present field in priority order wins.
func toolArgument(input rawObject) string {
	if v := stringField(input, "pattern"); v != "" {
		return v
	}
	if v := stringField(input, "command"); v != "" {
		return truncate(v, argumentLen)
	}
	if v := stringField(input, "file_path"); v != "" {
		return filepath.Base(v)
	}
	if v := stringField(input, "query"); v != "" {
		return truncate(v, argumentLen)
	}
	if v := stringField(input, "prompt"); v != "" {
		return truncate(v, argumentLen)
	}
	return ""
}

func parseTodos(input rawObject) ([]session.TodoItem, bool) {
	raw, ok := input["todos"]
	if !ok || isNull(raw) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	todos := make([]session.TodoItem, 0, len(items))
	for _, rawItem := range items {
		var t todoInput
		if err := json.Unmarshal(rawItem, &t); err != nil {
			continue
		}
		todos = append(todos, session.TodoItem{
			Content:    t.Content,
			Status:     session.ParseTodoStatus(t.Status),
			ActiveForm: t.ActiveForm,
		})
	}
	return todos, true
}

func messagePreview(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	return truncate(text, messagePreviewLen)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func decodeObject(data []byte) (rawObject, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var obj rawObject
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func stringField(obj rawObject, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// intField returns nil when the key is absent or not a non-negative
// integer, so callers can tell "missing" apart from zero.
func intField(obj rawObject, key string) *int {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		return nil
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil || v < 0 {
		return nil
	}
	return &v
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
