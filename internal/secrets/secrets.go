// Package secrets stores the credentials the usage poller needs. Values are
// opaque strings addressed by name under a fixed service identifier.
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// ErrEmptySessionKey is returned by SaveCredentials for an empty key.
var ErrEmptySessionKey = errors.New("session key must not be empty")

// Service scopes every secret this program stores.
const Service = "ccgauge"

// Names of the recognized secrets.
const (
	SessionKey     = "sessionKey"
	OrganizationID = "organizationId"
	CFClearance    = "cfClearance"
)

// Store is a minimal keychain-like collaborator. Set and Delete report
// whether the change was persisted.
type Store interface {
	Get(name string) (string, bool)
	Set(name, value string) bool
	Delete(name string) bool
}

// DefaultPath is the file used when no path is configured.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config dir: %w", err)
	}
	return filepath.Join(dir, Service, "secrets.json"), nil
}

// SaveCredentials writes a credential set. Optional values left empty are
// deleted so a stale organization is never paired with a new key.
func SaveCredentials(store Store, sessionKey, orgID, clearance string) error {
	if sessionKey == "" {
		return ErrEmptySessionKey
	}
	if !store.Set(SessionKey, sessionKey) {
		return fmt.Errorf("could not write %s", SessionKey)
	}
	for _, kv := range [][2]string{{OrganizationID, orgID}, {CFClearance, clearance}} {
		var ok bool
		if kv[1] == "" {
			ok = store.Delete(kv[0])
		} else {
			ok = store.Set(kv[0], kv[1])
		}
		if !ok {
			return fmt.Errorf("could not write %s", kv[0])
		}
	}
	return nil
}

// ClearCredentials deletes every recognized secret.
func ClearCredentials(store Store) error {
	var failed []string
	for _, name := range []string{SessionKey, OrganizationID, CFClearance} {
		if !store.Delete(name) {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("could not delete %v", failed)
	}
	return nil
}

type fileContents struct {
	Service string            `json:"service"`
	Secrets map[string]string `json:"secrets"`
}

// FileStore keeps secrets in a JSON file readable only by the owner. Writes
// go through a temp file and rename so a crash never leaves a torn file.
// The file is re-read whenever it changes on disk, so another process
// writing it is picked up on the next access.
type FileStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	info   os.FileInfo
	values map[string]string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		log.Printf("[secrets] %v", err)
		return "", false
	}
	v, ok := s.values[name]
	return v, ok
}

func (s *FileStore) Set(name, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		log.Printf("[secrets] %v", err)
		return false
	}
	prev, had := s.values[name]
	s.values[name] = value
	if err := s.saveLocked(); err != nil {
		log.Printf("[secrets] saving %s: %v", name, err)
		if had {
			s.values[name] = prev
		} else {
			delete(s.values, name)
		}
		return false
	}
	return true
}

func (s *FileStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		log.Printf("[secrets] %v", err)
		return false
	}
	prev, had := s.values[name]
	if !had {
		return true
	}
	delete(s.values, name)
	if err := s.saveLocked(); err != nil {
		log.Printf("[secrets] deleting %s: %v", name, err)
		s.values[name] = prev
		return false
	}
	return true
}

func (s *FileStore) loadLocked() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.values = make(map[string]string)
		s.info = nil
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}
	if s.loaded && s.unchanged(info) {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}
	var fc fileContents
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}
	if fc.Service != "" && fc.Service != Service {
		return fmt.Errorf("%s belongs to service %q", s.path, fc.Service)
	}
	s.values = fc.Secrets
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.info = info
	s.loaded = true
	return nil
}

// unchanged reports whether info describes the file last read or written.
// Every save renames a new file into place, so a write by another process
// changes the file identity even when size and mtime happen to match.
func (s *FileStore) unchanged(info os.FileInfo) bool {
	return s.info != nil && os.SameFile(s.info, info) &&
		s.info.ModTime().Equal(info.ModTime()) && s.info.Size() == info.Size()
}

func (s *FileStore) saveLocked() error {
	data, err := json.MarshalIndent(fileContents{Service: Service, Secrets: s.values}, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".secrets-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return err
	}
	if info, err := os.Stat(s.path); err == nil {
		s.info = info
	}
	return nil
}

// MemoryStore keeps secrets in memory. Used in tests and for one-shot CLI
// runs with credentials from flags.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *MemoryStore) Set(name, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return true
}

func (s *MemoryStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, name)
	return true
}
