package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ccgauge/ccgauge/internal/session"
	"github.com/ccgauge/ccgauge/internal/usage"
)

const writeWait = 10 * time.Second

// ErrTooManyConnections is returned by AddClient when the connection limit
// is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

// UsageSource supplies the latest usage status for snapshots.
type UsageSource interface {
	Status() usage.Status
}

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster pushes state to websocket clients. Session state updates are
// throttled so a burst of log lines becomes one message carrying the latest
// state; session-list and usage changes go out immediately.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int
	privacy  *session.PrivacyFilter

	store *session.Store
	usage UsageSource

	throttle     time.Duration
	flushMu      sync.Mutex
	pendingState *session.SessionState
	flushTimer   *time.Timer

	snapshotTicker *time.Ticker
	stop           chan struct{}
	stopOnce       sync.Once
}

// NewBroadcaster starts the periodic snapshot loop. maxConns <= 0 means
// unlimited. src may be nil when usage polling is disabled.
func NewBroadcaster(store *session.Store, src UsageSource, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:        make(map[*client]bool),
		maxConns:       maxConns,
		privacy:        &session.PrivacyFilter{},
		store:          store,
		usage:          src,
		throttle:       throttle,
		snapshotTicker: time.NewTicker(snapshotInterval),
		stop:           make(chan struct{}),
	}
	go b.snapshotLoop()
	return b
}

// SetPrivacyFilter replaces the filter applied to everything sent out.
func (b *Broadcaster) SetPrivacyFilter(f *session.PrivacyFilter) {
	if f == nil {
		f = &session.PrivacyFilter{}
	}
	b.mu.Lock()
	b.privacy = f
	b.mu.Unlock()
}

func (b *Broadcaster) filter() *session.PrivacyFilter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.privacy
}

// FilterState applies the privacy filter to a state.
func (b *Broadcaster) FilterState(st *session.SessionState) *session.SessionState {
	f := b.filter()
	if f.IsNoop() {
		return st
	}
	return f.Apply(st)
}

// FilterSessions applies the privacy filter to a candidate list. The
// selected id is masked the same way as the list entries and cleared when
// the selected session is hidden.
func (b *Broadcaster) FilterSessions(sessions []session.Session, selected string) ([]session.Session, string) {
	f := b.filter()
	if f.IsNoop() {
		return sessions, selected
	}
	filtered := f.FilterSessions(sessions)
	var maskedSelected string
	for _, s := range sessions {
		if s.ID != selected || !f.IsAllowed(s.ID) {
			continue
		}
		maskedSelected = s.ID
		if f.MaskWorkingDirs {
			maskedSelected = s.DisplayName()
		}
	}
	return filtered, maskedSelected
}

// AddClient registers conn and queues a full snapshot for it. At the
// connection limit it returns ErrTooManyConnections and leaves conn
// untouched.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{conn: conn, b: b, send: make(chan []byte, 64)}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()

	data, err := json.Marshal(b.snapshot())
	if err != nil {
		log.Printf("[ws] snapshot marshal error: %v", err)
		return c, nil
	}
	b.mu.RLock()
	if b.clients[c] {
		select {
		case c.send <- data:
		default:
		}
	}
	b.mu.RUnlock()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleEvent routes a store event. Register it with Store.Subscribe.
func (b *Broadcaster) HandleEvent(ev session.Event) {
	switch ev.Type {
	case session.EventState:
		b.QueueState(ev.State)
	case session.EventSessions:
		b.PublishSessions(ev.Sessions, ev.Selected)
	}
}

// QueueState schedules st for the next flush, replacing any state still
// waiting.
func (b *Broadcaster) QueueState(st *session.SessionState) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingState = st
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	st := b.pendingState
	b.pendingState = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if st == nil {
		return
	}
	b.broadcast(WSMessage{Type: MsgSession, Payload: b.FilterState(st)})
}

func (b *Broadcaster) PublishSessions(sessions []session.Session, selected string) {
	sessions, selected = b.FilterSessions(sessions, selected)
	b.broadcast(WSMessage{
		Type:    MsgSessions,
		Payload: SessionsPayload{Sessions: sessions, Selected: selected},
	})
}

func (b *Broadcaster) PublishUsage(st usage.Status) {
	b.broadcast(WSMessage{Type: MsgUsage, Payload: st})
}

func (b *Broadcaster) snapshot() WSMessage {
	sessions, selected := b.FilterSessions(b.store.Sessions())
	payload := SnapshotPayload{
		Session:  b.FilterState(b.store.State()),
		Sessions: sessions,
		Selected: selected,
	}
	if b.usage != nil {
		st := b.usage.Status()
		payload.Usage = &st
	}
	return WSMessage{Type: MsgSnapshot, Payload: payload}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.snapshotTicker.C:
			if b.ClientCount() > 0 {
				b.broadcast(b.snapshot())
			}
		}
	}
}

// Stop ends the snapshot loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.snapshotTicker.Stop()

		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
		}
		b.mu.Unlock()
	})
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] broadcast marshal error: %v", err)
		return
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send; slow clients are removed after it is released.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		log.Printf("[ws] client too slow, disconnecting")
		b.RemoveClient(c)
	}
}
