// Package telegraph bridges the relay engine and its operator controls to
// chat platforms (Telegram, Discord).
package telegraph

import (
	"context"
	"time"

	"github.com/zulandar/courier/internal/relay"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management, event delivery, operator
// replies and the duplicate-without-attribution primitive for one platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an operator-facing message.
	Send(ctx context.Context, msg OutboundMessage) error

	// Duplicate copies a payload into targetID as a new message, without
	// "forwarded from" attribution. It does not retry.
	Duplicate(ctx context.Context, targetID int64, p relay.Payload) error

	// AnswerCallback acknowledges a button press. When alert is true the
	// text is shown as a modal alert instead of a transient notice.
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// MessageKind classifies inbound messages.
type MessageKind string

const (
	KindChannelPost MessageKind = "channel_post" // posted in a channel or group
	KindDirect      MessageKind = "direct"       // private chat with the bot
	KindCallback    MessageKind = "callback"     // inline button press
)

// InboundMessage represents an event received from the chat platform.
type InboundMessage struct {
	Platform     string      // e.g. "telegram", "discord"
	Kind         MessageKind // channel post, direct message or callback
	ChannelID    int64       // chat the message was posted in
	MessageID    string      // platform message identifier
	UserID       int64       // sender; zero for anonymous channel posts
	UserName     string      // human-readable username
	Text         string      // message text, or media caption
	Attachments  []string    // media references (file ids, URLs)
	CallbackID   string      // set for KindCallback
	CallbackData string      // button payload for KindCallback
	Timestamp    time.Time   // when the message was sent
}

// Payload converts a channel post into the relay engine's payload.
func (m InboundMessage) Payload() relay.Payload {
	return relay.Payload{
		FromChannelID: m.ChannelID,
		MessageID:     m.MessageID,
		Text:          m.Text,
		Attachments:   m.Attachments,
	}
}

// OutboundMessage represents an operator-facing message.
type OutboundMessage struct {
	ChannelID    int64      // chat to post in
	DirectUserID int64      // when set, deliver as a direct message to this user instead
	Text         string     // plain text
	Buttons      [][]Button // inline keyboard rows
}

// Button is an inline button; Data is returned as CallbackData when pressed.
type Button struct {
	Text string
	Data string
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() int64
}
