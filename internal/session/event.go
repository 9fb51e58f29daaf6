package session

// EventType classifies what changed in the store.
type EventType int

const (
	EventState    EventType = iota // reconciled state of the selected session changed
	EventSessions                  // candidate session list or selection changed
)

// Event carries a snapshot to subscribers. Both fields are copies and safe
// to retain.
type Event struct {
	Type     EventType
	State    *SessionState
	Sessions []Session
	Selected string
}
