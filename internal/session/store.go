package session

import (
	"sync"
)

// Store publishes the monitor's state to readers on other goroutines. The
// monitor is the only writer; everything handed out is a copy.
type Store struct {
	mu       sync.RWMutex
	state    *SessionState
	sessions []Session
	selected string
	subs     map[int]func(Event)
	nextSub  int
}

func NewStore() *Store {
	return &Store{
		state: (&SessionState{}).Clone(),
		subs:  make(map[int]func(Event)),
	}
}

// State returns a copy of the current session state.
func (s *Store) State() *SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Sessions returns a copy of the candidate list and the selected id.
func (s *Store) Sessions() ([]Session, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSessions(s.sessions), s.selected
}

func (s *Store) Update(state *SessionState) {
	s.mu.Lock()
	s.state = state.Clone()
	ev := Event{Type: EventState, State: s.state.Clone()}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, ev)
}

func (s *Store) UpdateSessions(sessions []Session, selected string) {
	s.mu.Lock()
	s.sessions = cloneSessions(sessions)
	s.selected = selected
	ev := Event{Type: EventSessions, Sessions: cloneSessions(sessions), Selected: selected}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, ev)
}

// Subscribe registers fn for every subsequent change. Callbacks run on the
// writer's goroutine and must not block. The returned func unregisters.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) subscribersLocked() []func(Event) {
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

func cloneSessions(in []Session) []Session {
	out := make([]Session, len(in))
	for i, sess := range in {
		sess.WorkspaceFolders = append([]string(nil), sess.WorkspaceFolders...)
		out[i] = sess
	}
	return out
}
