// Package telegraph bridges the session coordinator to chat platforms
// (Slack, Discord, Telegram): it parses inbound chat messages into user
// intents and delivers notifications back as direct messages.
package telegraph

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and message sending/receiving
// for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to a channel or thread.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// DirectMessenger is implemented by adapters that can message a single user
// privately. Notifications are only deliverable through adapters that
// implement it.
type DirectMessenger interface {
	SendDirect(ctx context.Context, userID, text string) error
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "slack", "discord", "telegram"
	ChannelID string    // platform-specific channel or chat identifier
	ThreadID  string    // thread identifier (empty if top-level)
	UserID    string    // platform-specific user identifier
	UserName  string    // human-readable display name
	Text      string    // raw message text
	Timestamp time.Time // when the message was sent
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string           // target channel
	ThreadID  string           // thread to reply in (empty for top-level)
	Text      string           // message text
	Events    []FormattedEvent // structured attachments (digests)
}

// FormattedEvent is a structured card rendered as an embed (Discord),
// an attachment (Slack) or plain text (Telegram).
type FormattedEvent struct {
	Title  string
	Body   string
	Color  string  // sidebar color hint (e.g. "#36a64f")
	Fields []Field // key-value metadata pairs
}

// Field is a key-value pair displayed in an event card.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}
