package models

import "time"

// Notification is a message waiting for its recipient. It is read-once:
// flushing a recipient's queue consumes it.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	SessionID   int64     `json:"session_id,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}
