package model

import "time"

// Event types pushed to live sessions.
const (
	EventReady          = "ready"
	EventMailboxChanged = "mailbox_changed"
	EventEmailWoken     = "email_woken"
)

// Event is a notification delivered to every live session of a user.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the SSE event name (mailbox_changed, email_woken, ...).
	Type string `json:"type"`

	// UserID addresses the event.
	UserID string `json:"userId"`

	// Data is the JSON payload.
	Data any `json:"data,omitempty"`

	// CreatedAt is when this event was generated.
	CreatedAt time.Time `json:"createdAt"`
}

// MailboxChange is the payload of a mailbox_changed event.
type MailboxChange struct {
	Address   string `json:"emailAddress"`
	HistoryID uint64 `json:"historyId,omitempty"`
}
