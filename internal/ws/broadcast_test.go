package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ccgauge/ccgauge/internal/session"
	"github.com/ccgauge/ccgauge/internal/usage"
)

type staticUsage struct{ st usage.Status }

func (s staticUsage) Status() usage.Status { return s.st }

// attachFakeClient registers a client without a connection or write pump so
// tests can read what the broadcaster queues for it.
func attachFakeClient(b *Broadcaster) *client {
	c := &client{b: b, send: make(chan []byte, 64)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()
	return c
}

func receive(t *testing.T, c *client) WSMessage {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var raw struct {
			Type    MessageType     `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("decoding message: %v", err)
		}
		return WSMessage{Type: raw.Type, Payload: raw.Payload}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return WSMessage{}
	}
}

func decodePayload(t *testing.T, msg WSMessage, v any) {
	t.Helper()
	if err := json.Unmarshal(msg.Payload.(json.RawMessage), v); err != nil {
		t.Fatalf("decoding %s payload: %v", msg.Type, err)
	}
}

func expectSilence(t *testing.T, c *client, d time.Duration) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(d):
	}
}

func testSessions() []session.Session {
	return []session.Session{
		{ID: "/home/u/work/api", PID: 10, WorkspaceFolders: []string{"/home/u/work/api"}},
		{ID: "/home/u/personal/blog", PID: 11, WorkspaceFolders: []string{"/home/u/personal/blog"}},
	}
}

func TestFilterSessionsNoFilter(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), nil, time.Hour, time.Hour, 0)
	defer b.Stop()

	in := testSessions()
	got, selected := b.FilterSessions(in, in[0].ID)
	if len(got) != 2 || selected != in[0].ID {
		t.Errorf("FilterSessions = %v, %q", got, selected)
	}
}

func TestFilterSessionsPrivacy(t *testing.T) {
	tests := []struct {
		name         string
		filter       *session.PrivacyFilter
		selected     string
		wantIDs      []string
		wantSelected string
	}{
		{
			name:         "blocked selection is cleared",
			filter:       &session.PrivacyFilter{BlockedPaths: []string{"/home/u/personal"}},
			selected:     "/home/u/personal/blog",
			wantIDs:      []string{"/home/u/work/api"},
			wantSelected: "",
		},
		{
			name:         "allowlist keeps visible selection",
			filter:       &session.PrivacyFilter{AllowedPaths: []string{"/home/u/work"}},
			selected:     "/home/u/work/api",
			wantIDs:      []string{"/home/u/work/api"},
			wantSelected: "/home/u/work/api",
		},
		{
			name:         "masked dirs mask the selection too",
			filter:       &session.PrivacyFilter{MaskWorkingDirs: true},
			selected:     "/home/u/personal/blog",
			wantIDs:      []string{"api", "blog"},
			wantSelected: "blog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroadcaster(session.NewStore(), nil, time.Hour, time.Hour, 0)
			defer b.Stop()
			b.SetPrivacyFilter(tt.filter)

			in := testSessions()
			got, selected := b.FilterSessions(in, tt.selected)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d sessions, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("session[%d].ID = %q, want %q", i, got[i].ID, id)
				}
			}
			if selected != tt.wantSelected {
				t.Errorf("selected = %q, want %q", selected, tt.wantSelected)
			}
			if in[0].ID != "/home/u/work/api" {
				t.Error("input was mutated")
			}
		})
	}
}

func TestFilterStateMasksMessages(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), nil, time.Hour, time.Hour, 0)
	defer b.Stop()

	st := &session.SessionState{WorkingDir: "/home/u/work/api", LastMessage: "secret plan"}
	if got := b.FilterState(st); got.LastMessage != "secret plan" {
		t.Errorf("no-op filter changed state: %+v", got)
	}

	b.SetPrivacyFilter(&session.PrivacyFilter{MaskMessages: true, MaskWorkingDirs: true})
	got := b.FilterState(st)
	if got.LastMessage != "" || got.WorkingDir != "api" {
		t.Errorf("masked state = %+v", got)
	}
	if st.LastMessage != "secret plan" {
		t.Error("FilterState mutated its input")
	}
}

func TestSetPrivacyFilterNilResets(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), nil, time.Hour, time.Hour, 0)
	defer b.Stop()

	b.SetPrivacyFilter(&session.PrivacyFilter{MaskMessages: true})
	b.SetPrivacyFilter(nil)
	if !b.filter().IsNoop() {
		t.Error("nil filter should reset to no-op")
	}
}

func TestQueueStateCoalesces(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), nil, 30*time.Millisecond, time.Hour, 0)
	defer b.Stop()
	c := attachFakeClient(b)

	for _, model := range []string{"a", "b", "c"} {
		b.QueueState(&session.SessionState{Model: model, Connected: true})
	}

	msg := receive(t, c)
	if msg.Type != MsgSession {
		t.Fatalf("type = %s, want %s", msg.Type, MsgSession)
	}
	var st session.SessionState
	decodePayload(t, msg, &st)
	if st.Model != "c" {
		t.Errorf("flushed model = %q, want latest \"c\"", st.Model)
	}
	expectSilence(t, c, 100*time.Millisecond)
}

func TestHandleEventSessionsImmediate(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), nil, time.Hour, time.Hour, 0)
	defer b.Stop()
	b.SetPrivacyFilter(&session.PrivacyFilter{MaskWorkingDirs: true})
	c := attachFakeClient(b)

	sessions := testSessions()
	b.HandleEvent(session.Event{Type: session.EventSessions, Sessions: sessions, Selected: sessions[0].ID})

	msg := receive(t, c)
	if msg.Type != MsgSessions {
		t.Fatalf("type = %s, want %s", msg.Type, MsgSessions)
	}
	var payload SessionsPayload
	decodePayload(t, msg, &payload)
	if len(payload.Sessions) != 2 || payload.Selected != "api" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestPublishUsage(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), nil, time.Hour, time.Hour, 0)
	defer b.Stop()
	c := attachFakeClient(b)

	b.PublishUsage(usage.Status{Polling: true, ErrorKind: usage.KindRateLimited})

	msg := receive(t, c)
	if msg.Type != MsgUsage {
		t.Fatalf("type = %s, want %s", msg.Type, MsgUsage)
	}
	var st usage.Status
	decodePayload(t, msg, &st)
	if !st.Polling || st.ErrorKind != usage.KindRateLimited {
		t.Errorf("status = %+v", st)
	}
}

func TestSnapshotIncludesUsage(t *testing.T) {
	store := session.NewStore()
	store.UpdateSessions(testSessions(), "/home/u/work/api")
	store.Update(&session.SessionState{Model: "claude-opus", Connected: true})

	b := NewBroadcaster(store, staticUsage{usage.Status{HasCredential: true}}, time.Hour, time.Hour, 0)
	defer b.Stop()

	msg := b.snapshot()
	payload, ok := msg.Payload.(SnapshotPayload)
	if !ok {
		t.Fatalf("payload type %T", msg.Payload)
	}
	if payload.Session.Model != "claude-opus" || len(payload.Sessions) != 2 || payload.Selected != "/home/u/work/api" {
		t.Errorf("snapshot = %+v", payload)
	}
	if payload.Usage == nil || !payload.Usage.HasCredential {
		t.Errorf("usage = %+v", payload.Usage)
	}
}

func TestSlowClientRemoved(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), nil, time.Hour, time.Hour, 0)
	defer b.Stop()

	c := &client{b: b, send: make(chan []byte)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	b.PublishUsage(usage.Status{})
	if got := b.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d, want slow client removed", got)
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
}

func TestStopClosesClients(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), nil, time.Hour, time.Hour, 0)
	c := attachFakeClient(b)

	b.QueueState(&session.SessionState{})
	b.Stop()
	b.Stop()

	if b.ClientCount() != 0 {
		t.Error("clients remain after Stop")
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
}
