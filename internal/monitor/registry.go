package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ccgauge/ccgauge/internal/session"
)

var ErrUnknownSession = errors.New("unknown session")

// DecodeError reports a lock file that could not be decoded. Scan logs and
// skips these.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// lockDescriptor is the JSON the CLI writes to <claude_dir>/ide/<port>.lock.
type lockDescriptor struct {
	PID              int      `json:"pid"`
	WorkspaceFolders []string `json:"workspaceFolders"`
	IDEName          string   `json:"ideName"`
	Transport        string   `json:"transport,omitempty"`
	RunningInWindows bool     `json:"runningInWindows,omitempty"`
}

// Registry discovers live sessions from lock-file descriptors and tracks
// which one is selected. It is not safe for concurrent use.
type Registry struct {
	dir      string
	liveness LivenessChecker
	sessions []session.Session
	selected string
}

func NewRegistry(lockDir string, liveness LivenessChecker) *Registry {
	return &Registry{dir: lockDir, liveness: liveness}
}

// Scan re-reads the lock directory and reports whether the selection
// changed. With nothing selected, a single candidate is selected
// automatically; a selected session that disappeared is deselected.
func (r *Registry) Scan() bool {
	r.sessions = r.discover()

	before := r.selected
	if r.selected != "" && !r.has(r.selected) {
		log.Printf("[registry] selected session %s is gone", r.selected)
		r.selected = ""
	}
	if r.selected == "" && len(r.sessions) == 1 {
		r.selected = r.sessions[0].ID
		log.Printf("[registry] auto-selected %s", r.selected)
	}
	return r.selected != before
}

func (r *Registry) discover() []session.Session {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[registry] reading %s: %v", r.dir, err)
		}
		return nil
	}

	seen := make(map[string]bool)
	var sessions []session.Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		sess, err := readDescriptor(path)
		if err != nil {
			log.Printf("[registry] skipping %v", err)
			continue
		}
		if !r.liveness.Alive(sess.PID) {
			continue
		}
		if seen[sess.ID] {
			continue
		}
		seen[sess.ID] = true
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

func readDescriptor(path string) (session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Session{}, &DecodeError{Path: path, Err: err}
	}
	var d lockDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return session.Session{}, &DecodeError{Path: path, Err: err}
	}
	return session.Session{
		ID:               session.SessionID(d.PID, d.WorkspaceFolders),
		PID:              d.PID,
		WorkspaceFolders: d.WorkspaceFolders,
		IDEName:          d.IDEName,
		Transport:        d.Transport,
		RunningInWindows: d.RunningInWindows,
	}, nil
}

func (r *Registry) has(id string) bool {
	_, ok := r.find(id)
	return ok
}

func (r *Registry) find(id string) (session.Session, bool) {
	for _, s := range r.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return session.Session{}, false
}

// Sessions returns the candidates from the last scan, sorted by ID.
func (r *Registry) Sessions() []session.Session {
	return append([]session.Session(nil), r.sessions...)
}

func (r *Registry) Selected() (session.Session, bool) {
	if r.selected == "" {
		return session.Session{}, false
	}
	return r.find(r.selected)
}

func (r *Registry) SelectedID() string {
	return r.selected
}

// Select makes id the selected session. It reports whether the selection
// changed.
func (r *Registry) Select(id string) (bool, error) {
	if !r.has(id) {
		return false, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	changed := r.selected != id
	r.selected = id
	return changed, nil
}

func (r *Registry) ClearSelection() bool {
	changed := r.selected != ""
	r.selected = ""
	return changed
}
