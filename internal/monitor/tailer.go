package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccgauge/ccgauge/internal/session"
)

// ErrNoLogFile means the session has not written a log yet. Callers stay
// disconnected and retry on the next scan.
var ErrNoLogFile = errors.New("no session log file")

var errNotAttached = errors.New("tailer not attached")

// FindLogFile returns the most recently modified session log for sess.
// Sub-agent logs (agent-*.jsonl) are ignored. Modification times can be
// coarse, so ties go to the lexicographically greatest name.
func FindLogFile(projectsDir string, sess session.Session) (string, error) {
	dir := filepath.Join(projectsDir, sess.ProjectKey())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s does not exist", ErrNoLogFile, dir)
		}
		return "", fmt.Errorf("reading project dir %s: %w", dir, err)
	}

	var bestName string
	var bestTime time.Time
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasPrefix(name, "agent-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if bestName == "" || mod.After(bestTime) || (mod.Equal(bestTime) && name > bestName) {
			bestName = name
			bestTime = mod
		}
	}

	if bestName == "" {
		return "", fmt.Errorf("%w in %s", ErrNoLogFile, dir)
	}
	return filepath.Join(dir, bestName), nil
}

// Tailer follows one append-only log file through a byte cursor. The cursor
// only ever advances past complete lines; a partially written trailing line
// is picked up by a later read. Not safe for concurrent use.
type Tailer struct {
	projectsDir    string
	bootstrapLines int

	file   *os.File
	path   string
	cursor int64
}

func NewTailer(projectsDir string, bootstrapLines int) *Tailer {
	return &Tailer{projectsDir: projectsDir, bootstrapLines: bootstrapLines}
}

// Attach opens the newest log for sess, places the cursor at the end of its
// last complete line and returns up to bootstrapLines of the most recent
// non-empty lines. Any previously attached file is detached first.
func (t *Tailer) Attach(sess session.Session) ([]string, error) {
	t.Detach()

	path, err := FindLogFile(t.projectsDir, sess)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	complete := data[:bytes.LastIndexByte(data, '\n')+1]
	t.file = f
	t.path = path
	t.cursor = int64(len(complete))

	lines := splitLines(complete)
	if len(lines) > t.bootstrapLines {
		lines = lines[len(lines)-t.bootstrapLines:]
	}
	log.Printf("[tailer] attached %s (cursor=%d, bootstrap=%d lines)", path, t.cursor, len(lines))
	return lines, nil
}

// ReadNew returns the complete non-empty lines appended since the last read
// and advances the cursor past them. Calling it again with nothing new
// returns nothing, so repeated change notifications are harmless.
func (t *Tailer) ReadNew() ([]string, error) {
	if t.file == nil {
		return nil, errNotAttached
	}

	info, err := t.file.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size < t.cursor {
		log.Printf("[tailer] %s shrank from %d to %d bytes, rereading from start", t.path, t.cursor, size)
		t.cursor = 0
	}
	if size == t.cursor {
		return nil, nil
	}

	buf := make([]byte, size-t.cursor)
	n, err := t.file.ReadAt(buf, t.cursor)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	buf = buf[:n]

	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		return nil, nil
	}
	t.cursor += int64(end + 1)
	return splitLines(buf[:end+1]), nil
}

// Detach closes the file and resets the cursor. Safe to call when detached.
func (t *Tailer) Detach() {
	if t.file != nil {
		if err := t.file.Close(); err != nil {
			log.Printf("[tailer] closing %s: %v", t.path, err)
		}
	}
	t.file = nil
	t.path = ""
	t.cursor = 0
}

func (t *Tailer) Attached() bool { return t.file != nil }

func (t *Tailer) Path() string { return t.path }

func (t *Tailer) Cursor() int64 { return t.cursor }

func splitLines(data []byte) []string {
	var lines []string
	for _, raw := range bytes.Split(data, []byte{'\n'}) {
		line := strings.TrimSpace(string(raw))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
