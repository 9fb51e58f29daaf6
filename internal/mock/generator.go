// Package mock drives the monitor with a synthetic session for demos and
// frontend work. It writes the same files the CLI does, so everything
// downstream of the state directory runs unmodified.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/ccgauge/ccgauge/internal/session"
)

const (
	defaultWorkspace = "/home/user/myproject"
	mockModel        = "claude-opus-4-5-20251101"

	// The context fill is reset to this after passing maxContext, the way
	// a compaction drops it.
	compactedContext = 30000
	maxContext       = 180000
)

var commonTools = []string{"Read", "Grep", "Edit", "Bash", "Glob", "Write"}

var todoScript = []string{
	"Read the failing test",
	"Find the regression",
	"Patch the parser",
	"Run the test suite",
}

// Generator appends one scripted record per tick to a session log.
type Generator struct {
	claudeDir string
	workspace string
	sessionID string
	interval  time.Duration
	rng       *rand.Rand

	logPath  string
	lockPath string
	step     int
	toolSeq  int
	cacheRd  int
	pending  []string
	todoDone int
	agentID  string
}

// NewGenerator prepares a generator writing under claudeDir. The seed makes
// token growth reproducible.
func NewGenerator(claudeDir string, interval time.Duration, seed int64) *Generator {
	return &Generator{
		claudeDir: claudeDir,
		workspace: defaultWorkspace,
		sessionID: fmt.Sprintf("mock-%08x", seed&0xffffffff),
		interval:  interval,
		rng:       rand.New(rand.NewSource(seed)),
		cacheRd:   compactedContext,
	}
}

func (g *Generator) Workspace() string { return g.workspace }
func (g *Generator) LogPath() string   { return g.logPath }

// Setup writes a lock descriptor naming this process and creates an empty
// log for it.
func (g *Generator) Setup() error {
	lockDir := filepath.Join(g.claudeDir, "ide")
	logDir := filepath.Join(g.claudeDir, "projects", session.ProjectKey(g.workspace))
	for _, dir := range []string{lockDir, logDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	lock, err := json.Marshal(map[string]any{
		"pid":              os.Getpid(),
		"workspaceFolders": []string{g.workspace},
		"ideName":          "mock",
		"transport":        "ws",
	})
	if err != nil {
		return err
	}
	g.lockPath = filepath.Join(lockDir, fmt.Sprintf("%d.lock", os.Getpid()))
	if err := os.WriteFile(g.lockPath, lock, 0o644); err != nil {
		return err
	}

	g.logPath = filepath.Join(logDir, g.sessionID+".jsonl")
	f, err := os.OpenFile(g.logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Start runs Setup and then ticks until ctx is done, removing the lock
// descriptor on the way out.
func (g *Generator) Start(ctx context.Context) error {
	if err := g.Setup(); err != nil {
		return fmt.Errorf("mock setup: %w", err)
	}
	log.Printf("[mock] writing session %s to %s", g.sessionID, g.logPath)

	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		defer os.Remove(g.lockPath)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := g.Tick(); err != nil {
					log.Printf("[mock] %v", err)
				}
			}
		}
	}()
	return nil
}

// Tick appends the next record of the script.
func (g *Generator) Tick() error {
	rec := g.next()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(g.logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// next builds the record for the current step. The script loops: prompt,
// reply, a few tool calls with their results, a todo update and a
// sub-agent that finishes a few steps later.
func (g *Generator) next() map[string]any {
	defer func() { g.step++ }()

	switch g.step % 8 {
	case 0:
		return g.record("user", nil, textBlock("Fix the flaky parser test and keep the suite green."))
	case 1:
		return g.record("assistant", g.usage(), textBlock("Looking at the parser tests first."))
	case 2, 5:
		return g.record("assistant", g.usage(), g.toolUse(commonTools[g.toolSeq%len(commonTools)], g.toolInput()))
	case 3, 6:
		return g.record("user", nil, g.toolResults()...)
	case 4:
		if g.agentID != "" {
			id := g.agentID
			g.agentID = ""
			return g.record("user", nil, resultBlock(id))
		}
		block := g.toolUse(session.AgentToolName, map[string]any{
			"subagent_type": "Explore",
			"description":   "Survey parser call sites",
			"prompt":        "List every caller of the parser",
		})
		g.agentID = block["id"].(string)
		g.pending = g.pending[:len(g.pending)-1]
		return g.record("assistant", g.usage(), block)
	default:
		return g.record("assistant", g.usage(), g.todoWrite())
	}
}

func (g *Generator) record(role string, usage map[string]any, content ...map[string]any) map[string]any {
	msg := map[string]any{"role": role, "content": content}
	if role == "assistant" {
		msg["model"] = mockModel
	}
	if usage != nil {
		msg["usage"] = usage
	}
	return map[string]any{
		"type":      role,
		"sessionId": g.sessionID,
		"cwd":       g.workspace,
		"gitBranch": "main",
		"message":   msg,
	}
}

// usage grows the context with some jitter, compacting when it is nearly
// full.
func (g *Generator) usage() map[string]any {
	g.cacheRd += 1500 + g.rng.Intn(3000)
	if g.cacheRd > maxContext {
		g.cacheRd = compactedContext
	}
	return map[string]any{
		"input_tokens":                4 + g.rng.Intn(20),
		"output_tokens":               200 + g.rng.Intn(800),
		"cache_read_input_tokens":     g.cacheRd,
		"cache_creation_input_tokens": g.rng.Intn(2000),
	}
}

func (g *Generator) toolUse(name string, input map[string]any) map[string]any {
	g.toolSeq++
	id := fmt.Sprintf("toolu_mock_%04d", g.toolSeq)
	g.pending = append(g.pending, id)
	return map[string]any{"type": "tool_use", "id": id, "name": name, "input": input}
}

func (g *Generator) toolInput() map[string]any {
	switch commonTools[g.toolSeq%len(commonTools)] {
	case "Grep", "Glob":
		return map[string]any{"pattern": "func Parse"}
	case "Bash":
		return map[string]any{"command": "go test ./internal/parser/..."}
	default:
		return map[string]any{"file_path": g.workspace + "/internal/parser/parser.go"}
	}
}

// toolResults completes every pending tool call except a running agent.
func (g *Generator) toolResults() []map[string]any {
	var blocks []map[string]any
	for _, id := range g.pending {
		blocks = append(blocks, resultBlock(id))
	}
	g.pending = nil
	if len(blocks) == 0 {
		blocks = append(blocks, textBlock("ok"))
	}
	return blocks
}

func (g *Generator) todoWrite() map[string]any {
	todos := make([]map[string]any, len(todoScript))
	for i, content := range todoScript {
		status := "pending"
		switch {
		case i < g.todoDone:
			status = "completed"
		case i == g.todoDone:
			status = "in_progress"
		}
		todos[i] = map[string]any{"content": content, "status": status, "activeForm": content}
	}
	g.todoDone = (g.todoDone + 1) % (len(todoScript) + 1)
	return g.toolUse("TodoWrite", map[string]any{"todos": todos})
}

func textBlock(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

func resultBlock(id string) map[string]any {
	return map[string]any{"type": "tool_result", "tool_use_id": id, "content": "ok"}
}
