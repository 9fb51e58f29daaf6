package monitor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/ccgauge/ccgauge/internal/clock"
	"github.com/ccgauge/ccgauge/internal/config"
	"github.com/ccgauge/ccgauge/internal/session"
)

type command struct {
	fn   func()
	done chan struct{}
}

// Monitor ties the registry, tailer, parser and reconciler together. All of
// them are owned by the goroutine running Run; other goroutines reach them
// only through commands and read results from the store.
type Monitor struct {
	scanInterval time.Duration
	projectsDir  string

	registry   *Registry
	tailer     *Tailer
	parser     *Parser
	reconciler *session.Reconciler
	watcher    FileWatcher
	watch      Watch
	store      *session.Store

	commands      chan command
	lastAttachErr string
}

func NewMonitor(cfg *config.Config, store *session.Store, liveness LivenessChecker, watcher FileWatcher, clk clock.Clock) *Monitor {
	return &Monitor{
		scanInterval: cfg.Monitor.ScanInterval,
		projectsDir:  cfg.ProjectsDir(),
		registry:     NewRegistry(cfg.LockDir(), liveness),
		tailer:       NewTailer(cfg.ProjectsDir(), cfg.Monitor.BootstrapLines),
		parser:       NewParser(clk.Now),
		reconciler:   session.NewReconciler(clk.Now),
		watcher:      watcher,
		store:        store,
		commands:     make(chan command),
	}
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	log.Printf("[monitor] started (scan every %v)", m.scanInterval)
	m.scan()

	for {
		var events <-chan struct{}
		if m.watch != nil {
			events = m.watch.Events()
		}

		select {
		case <-ctx.Done():
			m.detach()
			m.publishState()
			log.Println("[monitor] stopped")
			return
		case <-ticker.C:
			m.scan()
		case _, ok := <-events:
			if !ok {
				log.Printf("[monitor] watch on %s closed; falling back to scan ticks", m.tailer.Path())
				m.watch = nil
				continue
			}
			m.readNew()
		case cmd := <-m.commands:
			cmd.fn()
			close(cmd.done)
		}
	}
}

// do runs fn on the monitor goroutine and waits for it to finish.
func (m *Monitor) do(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case m.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scan rescans lock files immediately.
func (m *Monitor) Scan(ctx context.Context) error {
	return m.do(ctx, m.scan)
}

// Select switches the monitored session to id.
func (m *Monitor) Select(ctx context.Context, id string) error {
	var selErr error
	err := m.do(ctx, func() { selErr = m.selectSession(id) })
	if err != nil {
		return err
	}
	return selErr
}

func (m *Monitor) scan() {
	changed := m.registry.Scan()
	m.publishSessions()

	sess, selected := m.registry.Selected()
	switch {
	case changed:
		m.switchTo(sess, selected)
	case selected && !m.tailer.Attached():
		m.attach(sess)
		m.publishState()
	case selected:
		// A new conversation in the same workspace starts a new log file.
		if path, err := FindLogFile(m.projectsDir, sess); err == nil && path != m.tailer.Path() {
			log.Printf("[monitor] newer log for %s: %s", sess.ID, path)
			m.switchTo(sess, true)
			return
		}
		// Catch anything a dropped notification missed.
		m.readNew()
	}
}

func (m *Monitor) selectSession(id string) error {
	changed, err := m.registry.Select(id)
	if err != nil {
		return err
	}
	if changed {
		m.publishSessions()
		sess, _ := m.registry.Selected()
		m.switchTo(sess, true)
	}
	return nil
}

// switchTo tears down the current log, resets state and attaches to sess
// when ok is true.
func (m *Monitor) switchTo(sess session.Session, ok bool) {
	m.detach()
	m.lastAttachErr = ""
	if ok {
		m.reconciler.Reset(&sess)
		m.attach(sess)
	} else {
		m.reconciler.Reset(nil)
	}
	m.publishState()
}

func (m *Monitor) attach(sess session.Session) {
	lines, err := m.tailer.Attach(sess)
	if err != nil {
		// Retried on every scan; only log when the reason changes.
		if msg := err.Error(); msg != m.lastAttachErr {
			m.lastAttachErr = msg
			if errors.Is(err, ErrNoLogFile) {
				log.Printf("[monitor] waiting for log: %v", err)
			} else {
				log.Printf("[monitor] attach %s: %v", sess.ID, err)
			}
		}
		return
	}
	m.lastAttachErr = ""

	w, err := m.watcher.Watch(m.tailer.Path())
	if err != nil {
		log.Printf("[monitor] watching %s: %v; relying on scan ticks", m.tailer.Path(), err)
	} else {
		m.watch = w
	}

	m.reconciler.SetConnected(true)
	m.apply(lines)
}

func (m *Monitor) detach() {
	if m.watch != nil {
		if err := m.watch.Close(); err != nil {
			log.Printf("[monitor] closing watch: %v", err)
		}
		m.watch = nil
	}
	if m.tailer.Attached() {
		m.tailer.Detach()
		m.reconciler.SetConnected(false)
	}
}

func (m *Monitor) readNew() {
	if !m.tailer.Attached() {
		return
	}
	lines, err := m.tailer.ReadNew()
	if err != nil {
		log.Printf("[monitor] reading %s: %v", m.tailer.Path(), err)
		return
	}
	if len(lines) == 0 {
		return
	}
	m.apply(lines)
	m.publishState()
}

func (m *Monitor) apply(lines []string) {
	for _, line := range lines {
		m.reconciler.ApplyAll(m.parser.Parse([]byte(line)))
	}
}

func (m *Monitor) publishState() {
	m.store.Update(m.reconciler.State())
}

func (m *Monitor) publishSessions() {
	m.store.UpdateSessions(m.registry.Sessions(), m.registry.SelectedID())
}
