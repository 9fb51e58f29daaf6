package session

import "time"

// AgentToolName is the tool whose invocations launch sub-agents.
const AgentToolName = "Task"

// Reconciler folds deltas into the single SessionState it owns. It is not
// safe for concurrent use; the monitor calls it from one goroutine.
type Reconciler struct {
	state *SessionState
	now   func() time.Time
}

func NewReconciler(now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	r := &Reconciler{now: now}
	r.Reset(nil)
	return r
}

// Reset discards all state and starts over for sess (which may be nil when
// nothing is selected). Connectivity is false until SetConnected(true).
func (r *Reconciler) Reset(sess *Session) {
	st := &SessionState{
		ActiveTools: []ToolExecution{},
		RecentTools: []ToolExecution{},
		Agents:      []AgentInfo{},
		Todos:       []TodoItem{},
		UpdatedAt:   r.now(),
	}
	if sess != nil {
		c := *sess
		c.WorkspaceFolders = append([]string(nil), sess.WorkspaceFolders...)
		st.Session = &c
	}
	r.state = st
}

func (r *Reconciler) SetConnected(connected bool) {
	r.state.Connected = connected
	r.state.UpdatedAt = r.now()
}

// State returns a copy of the current state.
func (r *Reconciler) State() *SessionState {
	return r.state.Clone()
}

// ApplyAll applies deltas in order.
func (r *Reconciler) ApplyAll(deltas []Delta) {
	for _, d := range deltas {
		r.Apply(d)
	}
}

func (r *Reconciler) Apply(d Delta) {
	st := r.state
	switch d := d.(type) {
	case InfoDelta:
		if d.SessionID != "" {
			st.SessionID = d.SessionID
		}
		if d.WorkingDir != "" {
			st.WorkingDir = d.WorkingDir
		}
		if d.GitBranch != "" {
			st.GitBranch = d.GitBranch
		}
	case ModelDelta:
		if d.Model != "" {
			st.Model = d.Model
		}
	case UsageDelta:
		overwrite(&st.Tokens.Input, d.Input)
		overwrite(&st.Tokens.Output, d.Output)
		overwrite(&st.Tokens.CacheRead, d.CacheRead)
		overwrite(&st.Tokens.CacheCreation, d.CacheCreation)
	case MessageDelta:
		st.LastMessage = d.Text
		at := d.At
		st.LastMessageAt = &at
	case ToolStartDelta:
		r.startTool(d)
	case ToolCompleteDelta:
		r.completeTool(d)
	case TodoReplaceDelta:
		st.Todos = append(make([]TodoItem, 0, len(d.Todos)), d.Todos...)
	default:
		return
	}
	st.UpdatedAt = r.now()
}

func overwrite(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func (r *Reconciler) startTool(d ToolStartDelta) {
	st := r.state
	if d.ID == "" {
		return
	}
	for _, t := range st.ActiveTools {
		if t.ID == d.ID {
			return
		}
	}
	st.ActiveTools = append(st.ActiveTools, ToolExecution{
		ID:        d.ID,
		Name:      d.Name,
		Argument:  d.Argument,
		StartedAt: d.At,
	})

	if d.Name != AgentToolName {
		return
	}
	for _, a := range st.Agents {
		if a.ID == d.ID {
			return
		}
	}
	st.Agents = append(st.Agents, AgentInfo{
		ID:          d.ID,
		Type:        d.AgentType,
		Description: d.AgentDescription,
		StartedAt:   d.At,
	})
}

func (r *Reconciler) completeTool(d ToolCompleteDelta) {
	st := r.state
	for i := range st.Agents {
		if st.Agents[i].ID == d.ID && st.Agents[i].CompletedAt == nil {
			at := d.At
			st.Agents[i].CompletedAt = &at
		}
	}

	idx := -1
	for i, t := range st.ActiveTools {
		if t.ID == d.ID {
			idx = i
			break
		}
	}
	// The start may have fallen outside the bootstrap window.
	if idx < 0 {
		return
	}

	done := st.ActiveTools[idx]
	st.ActiveTools = append(st.ActiveTools[:idx], st.ActiveTools[idx+1:]...)
	end := d.At
	done.EndedAt = &end

	recent := make([]ToolExecution, 0, RecentToolsCapacity)
	recent = append(recent, done)
	recent = append(recent, st.RecentTools...)
	if len(recent) > RecentToolsCapacity {
		recent = recent[:RecentToolsCapacity]
	}
	st.RecentTools = recent
}
