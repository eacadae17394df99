// Package bridge contains the public domain model and interfaces of the push
// token bridge: the persisted token record, inbound push events and the
// notification display request.
package bridge

import (
	"time"
)

// TokenRecord is the single persisted entity.
type TokenRecord struct {
	Token     string `json:"token" firestore:"token"`
	NeedsSync bool   `json:"needs_sync" firestore:"needs_sync"`
}

// StructuredNotification carries the transport's native title/body fields.
type StructuredNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// IsEmpty reports whether neither field carries any text.
func (n *StructuredNotification) IsEmpty() bool {
	return n == nil || (n.Title == "" && n.Body == "")
}

// MessagePayload is a message as delivered by the push transport.
type MessagePayload struct {
	Notification *StructuredNotification `json:"notification,omitempty"`
	Data         map[string]string       `json:"data,omitempty"`
}

// NotificationRequest is an ephemeral display request, never persisted.
type NotificationRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// EventType discriminates the inbound push events.
type EventType string

const (
	EventTokenRefresh EventType = "token_refresh"
	EventMessage      EventType = "message"
)

// PushEvent is the envelope the transport publishes onto the ingestion topic.
type PushEvent struct {
	ID         string          `json:"id,omitempty"`
	Type       EventType       `json:"type"`
	Token      string          `json:"token,omitempty"`
	Message    *MessagePayload `json:"message,omitempty"`
	ReceivedAt time.Time       `json:"received_at,omitempty"`
}
