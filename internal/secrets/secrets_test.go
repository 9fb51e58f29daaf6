package secrets

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secrets.json")
	s := NewFileStore(path)

	if _, ok := s.Get(SessionKey); ok {
		t.Fatal("empty store returned a value")
	}
	if !s.Set(SessionKey, "sk-123") || !s.Set(OrganizationID, "org-1") {
		t.Fatal("Set failed")
	}

	// A fresh store sees what the first one persisted.
	reopened := NewFileStore(path)
	if v, ok := reopened.Get(SessionKey); !ok || v != "sk-123" {
		t.Errorf("Get(sessionKey) = %q, %v", v, ok)
	}
	if !reopened.Delete(SessionKey) {
		t.Fatal("Delete failed")
	}
	if _, ok := NewFileStore(path).Get(SessionKey); ok {
		t.Error("deleted secret still present on disk")
	}
	if v, _ := NewFileStore(path).Get(OrganizationID); v != "org-1" {
		t.Errorf("unrelated secret lost: %q", v)
	}
}

func TestFileStoreFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	s := NewFileStore(path)
	s.Set(CFClearance, "cf")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var fc fileContents
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("file is not JSON: %v", err)
	}
	if fc.Service != Service || fc.Secrets[CFClearance] != "cf" {
		t.Errorf("contents = %+v", fc)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("mode = %o, want 600", perm)
		}
	}
}

func TestFileStoreRejectsForeignService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"service":"other","secrets":{"sessionKey":"x"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)
	if _, ok := s.Get(SessionKey); ok {
		t.Error("read a secret belonging to another service")
	}
	if s.Set(SessionKey, "y") {
		t.Error("Set should fail on a foreign file")
	}
}

func TestFileStoreSeesExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	server := NewFileStore(path)
	if _, ok := server.Get(SessionKey); ok {
		t.Fatal("empty store returned a value")
	}

	// Another process (the login command) writes the same file.
	NewFileStore(path).Set(SessionKey, "sk-first")
	if v, _ := server.Get(SessionKey); v != "sk-first" {
		t.Errorf("after external write Get = %q, want sk-first", v)
	}

	NewFileStore(path).Set(SessionKey, "sk-other")
	if v, _ := server.Get(SessionKey); v != "sk-other" {
		t.Errorf("after same-size rewrite Get = %q, want sk-other", v)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, ok := server.Get(SessionKey); ok {
		t.Error("value survived removal of the file")
	}
}

func TestFileStoreDeleteMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "secrets.json"))
	if !s.Delete(SessionKey) {
		t.Error("deleting an absent secret should succeed")
	}
}

func TestMemoryStore(t *testing.T) {
	var s Store = NewMemoryStore()
	s.Set(SessionKey, "a")
	if v, ok := s.Get(SessionKey); !ok || v != "a" {
		t.Errorf("Get = %q, %v", v, ok)
	}
	s.Delete(SessionKey)
	if _, ok := s.Get(SessionKey); ok {
		t.Error("value survived Delete")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only applies on linux")
	}
	got, err := DefaultPath()
	if err != nil {
		t.Fatal(err)
	}
	if want := "/tmp/xdg/ccgauge/secrets.json"; got != want {
		t.Errorf("DefaultPath = %q, want %q", got, want)
	}
}

func TestSaveCredentials(t *testing.T) {
	store := NewMemoryStore()
	store.Set(OrganizationID, "org-old")

	if err := SaveCredentials(store, "", "", ""); !errors.Is(err, ErrEmptySessionKey) {
		t.Errorf("empty key: err = %v, want ErrEmptySessionKey", err)
	}
	if err := SaveCredentials(store, "sk-1", "", "cf-1"); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}
	if v, _ := store.Get(SessionKey); v != "sk-1" {
		t.Errorf("session key = %q", v)
	}
	if v, _ := store.Get(CFClearance); v != "cf-1" {
		t.Errorf("clearance = %q", v)
	}
	if _, ok := store.Get(OrganizationID); ok {
		t.Error("organization of the previous key was kept")
	}

	if err := ClearCredentials(store); err != nil {
		t.Fatalf("ClearCredentials: %v", err)
	}
	for _, name := range []string{SessionKey, OrganizationID, CFClearance} {
		if _, ok := store.Get(name); ok {
			t.Errorf("%s still stored", name)
		}
	}
}
