package ws

import (
	"github.com/ccgauge/ccgauge/internal/session"
	"github.com/ccgauge/ccgauge/internal/usage"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgSession  MessageType = "session"
	MsgSessions MessageType = "sessions"
	MsgUsage    MessageType = "usage"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotPayload is the full picture, sent on connect and periodically.
type SnapshotPayload struct {
	Session  *session.SessionState `json:"session"`
	Sessions []session.Session     `json:"sessions"`
	Selected string                `json:"selected,omitempty"`
	Usage    *usage.Status         `json:"usage,omitempty"`
}

type SessionsPayload struct {
	Sessions []session.Session `json:"sessions"`
	Selected string            `json:"selected,omitempty"`
}

// CredentialsRequest is the body of PUT /api/usage/credentials. Empty
// optional fields remove the stored value.
type CredentialsRequest struct {
	SessionKey     string `json:"sessionKey"`
	OrganizationID string `json:"organizationId,omitempty"`
	CFClearance    string `json:"cfClearance,omitempty"`
}
