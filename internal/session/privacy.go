package session

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
)

// PrivacyFilter applies masking and path-based filtering to session state
// before it leaves the process. The zero value is a no-op filter.
type PrivacyFilter struct {
	MaskWorkingDirs bool
	MaskSessionIDs  bool
	MaskMessages    bool
	AllowedPaths    []string
	BlockedPaths    []string
}

// IsAllowed reports whether a session with the given working directory may
// be published. An empty working directory is always allowed. When
// AllowedPaths is non-empty, the path must match at least one pattern. If it
// passes the allowlist, it must not match any BlockedPaths pattern.
func (f *PrivacyFilter) IsAllowed(workingDir string) bool {
	if workingDir == "" {
		return true
	}

	if len(f.AllowedPaths) > 0 {
		allowed := false
		for _, pattern := range f.AllowedPaths {
			if matchPathOrParent(pattern, workingDir) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pattern := range f.BlockedPaths {
		if matchPathOrParent(pattern, workingDir) {
			return false
		}
	}

	return true
}

// matchPathOrParent checks if pattern matches path or any of its parent
// directories, so "/home/user/*" also matches "/home/user/work/project-a".
func matchPathOrParent(pattern, path string) bool {
	for p := path; p != "." && p != "" && p != filepath.Dir(p); p = filepath.Dir(p) {
		if matched, _ := filepath.Match(pattern, p); matched {
			return true
		}
	}
	return false
}

// Apply returns a masked copy of s. A session whose workspace is not allowed
// is reduced to its connectivity flag and timestamps. The original is never
// modified.
func (f *PrivacyFilter) Apply(s *SessionState) *SessionState {
	masked := s.Clone()

	dir := masked.WorkingDir
	if dir == "" && masked.Session != nil {
		dir = masked.Session.ID
	}
	if !f.IsAllowed(dir) {
		return &SessionState{
			Connected:   masked.Connected,
			UpdatedAt:   masked.UpdatedAt,
			ActiveTools: []ToolExecution{},
			RecentTools: []ToolExecution{},
			Agents:      []AgentInfo{},
			Todos:       []TodoItem{},
		}
	}

	if f.MaskWorkingDirs {
		if masked.WorkingDir != "" {
			masked.WorkingDir = filepath.Base(masked.WorkingDir)
		}
		if masked.Session != nil {
			masked.Session.ID = masked.Session.DisplayName()
			for i, folder := range masked.Session.WorkspaceFolders {
				masked.Session.WorkspaceFolders[i] = filepath.Base(folder)
			}
		}
	}

	if f.MaskSessionIDs && masked.SessionID != "" {
		masked.SessionID = shortHash(masked.SessionID)
	}

	if f.MaskMessages {
		masked.LastMessage = ""
		for i := range masked.ActiveTools {
			masked.ActiveTools[i].Argument = ""
		}
		for i := range masked.RecentTools {
			masked.RecentTools[i].Argument = ""
		}
		for i := range masked.Agents {
			masked.Agents[i].Description = ""
		}
		for i := range masked.Todos {
			masked.Todos[i].Content = ""
			masked.Todos[i].ActiveForm = ""
		}
	}

	return masked
}

// FilterSessions returns the allowed sessions, with working directories
// masked when configured. The original slice is not modified.
func (f *PrivacyFilter) FilterSessions(sessions []Session) []Session {
	result := make([]Session, 0, len(sessions))
	for _, s := range cloneSessions(sessions) {
		if !f.IsAllowed(s.ID) {
			continue
		}
		if f.MaskWorkingDirs {
			s.ID = s.DisplayName()
			for i, folder := range s.WorkspaceFolders {
				s.WorkspaceFolders[i] = filepath.Base(folder)
			}
		}
		result = append(result, s)
	}
	return result
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskWorkingDirs && !f.MaskSessionIDs && !f.MaskMessages &&
		len(f.AllowedPaths) == 0 && len(f.BlockedPaths) == 0
}

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
