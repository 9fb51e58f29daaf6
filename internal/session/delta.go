package session

import "time"

// Delta is one typed fact extracted from a single log line. The concrete
// types below are the only implementations.
type Delta interface {
	isDelta()
}

// InfoDelta carries top-level session fields. Empty strings mean the field
// was absent from the line.
type InfoDelta struct {
	SessionID  string
	WorkingDir string
	GitBranch  string
}

type ModelDelta struct {
	Model string
}

// UsageDelta carries running token totals. A nil field was absent from the
// record and must leave the prior value untouched.
type UsageDelta struct {
	Input         *int
	Output        *int
	CacheRead     *int
	CacheCreation *int
}

type MessageDelta struct {
	Text string
	At   time.Time
}

// ToolStartDelta reports a tool_use block. AgentType and AgentDescription
// are set for Task invocations only.
type ToolStartDelta struct {
	ID               string
	Name             string
	Argument         string
	At               time.Time
	AgentType        string
	AgentDescription string
}

type ToolCompleteDelta struct {
	ID string
	At time.Time
}

type TodoReplaceDelta struct {
	Todos []TodoItem
}

func (InfoDelta) isDelta()         {}
func (ModelDelta) isDelta()        {}
func (UsageDelta) isDelta()        {}
func (MessageDelta) isDelta()      {}
func (ToolStartDelta) isDelta()    {}
func (ToolCompleteDelta) isDelta() {}
func (TodoReplaceDelta) isDelta()  {}
