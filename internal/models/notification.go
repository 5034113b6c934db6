package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationEventType enumerates the events the notifier can dispatch,
// matching the original message_builder.py event set.
type NotificationEventType string

const (
	EventNewMatch      NotificationEventType = "new_match"
	EventScoreImproved NotificationEventType = "score_improved"
	EventStatusChanged NotificationEventType = "status_changed"
	EventBatchComplete NotificationEventType = "batch_complete"
)

// ResendableEvents are the event types DefaultDedupStrategy permits
// resending for after the resend interval elapses, ported from
// notification/tracker.py.
var ResendableEvents = map[NotificationEventType]bool{
	EventScoreImproved: true,
	EventStatusChanged: true,
}

// ChannelType enumerates supported notification transports.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelWebhook ChannelType = "webhook"
	ChannelChatBot ChannelType = "chat_bot"
	ChannelInApp   ChannelType = "in_app"
)

// NotificationMessage is the rendered, channel-agnostic payload produced by
// internal/notify/message before a channel implementation formats it.
type NotificationMessage struct {
	UserID    string
	MatchID   uuid.UUID
	EventType NotificationEventType
	Subject   string
	BodyText  string
	BodyHTML  string
	Metadata  map[string]string
}

// NotificationTracker is the persisted dedup record for one
// (user, match, event, channel) tuple, ported from notification/tracker.py.
type NotificationTracker struct {
	UserID      string
	MatchID     uuid.UUID
	EventType   NotificationEventType
	ChannelType ChannelType

	DedupHash   string
	ContentHash string

	SentAt           time.Time
	SentCount        int
	SentSuccessfully bool
	LastError        *string
}
