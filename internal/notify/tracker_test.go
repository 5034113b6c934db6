package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jobmatch-ai/pipeline/internal/models"
	"github.com/jobmatch-ai/pipeline/internal/repository/memory"
)

func testMessage(event models.NotificationEventType) models.NotificationMessage {
	return models.NotificationMessage{
		UserID:    "user-1",
		MatchID:   uuid.New(),
		EventType: event,
		Subject:   "subject",
		BodyText:  "body",
	}
}

func TestTrackerBlocksDuplicateSendsForUnchangedContent(t *testing.T) {
	store := memory.NewNotificationTrackerStore(func(userID string, matchID uuid.UUID, event models.NotificationEventType, channel models.ChannelType) string {
		return DedupHash(userID, matchID, event, channel)
	})
	tracker := NewTracker(store, false)
	ctx := context.Background()
	msg := testMessage(models.EventNewMatch)
	now := time.Now()

	allowed, err := tracker.ShouldSend(ctx, msg, models.ChannelEmail, "content-v1", time.Hour, now)
	if err != nil {
		t.Fatalf("ShouldSend: %v", err)
	}
	if !allowed {
		t.Fatalf("expected the first send to be allowed")
	}
	if err := tracker.RecordAttempt(ctx, msg, models.ChannelEmail, "content-v1", now, true, nil); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	allowed, err = tracker.ShouldSend(ctx, msg, models.ChannelEmail, "content-v1", time.Hour, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ShouldSend: %v", err)
	}
	if allowed {
		t.Fatalf("expected a repeat send with unchanged content and a non-resendable event to be blocked")
	}
}

func TestTrackerAllowsResendOfUnchangedContentAfterIntervalForResendableEvents(t *testing.T) {
	store := memory.NewNotificationTrackerStore(func(userID string, matchID uuid.UUID, event models.NotificationEventType, channel models.ChannelType) string {
		return DedupHash(userID, matchID, event, channel)
	})
	tracker := NewTracker(store, false)
	ctx := context.Background()
	msg := testMessage(models.EventStatusChanged)
	now := time.Now()

	if _, err := tracker.ShouldSend(ctx, msg, models.ChannelEmail, "content-v1", time.Hour, now); err != nil {
		t.Fatalf("ShouldSend: %v", err)
	}
	if err := tracker.RecordAttempt(ctx, msg, models.ChannelEmail, "content-v1", now, true, nil); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	tooSoon, err := tracker.ShouldSend(ctx, msg, models.ChannelEmail, "content-v1", time.Hour, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ShouldSend: %v", err)
	}
	if tooSoon {
		t.Fatalf("expected resend to be blocked before the resend interval elapses")
	}

	afterInterval, err := tracker.ShouldSend(ctx, msg, models.ChannelEmail, "content-v1", time.Hour, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ShouldSend: %v", err)
	}
	if !afterInterval {
		t.Fatalf("expected resend to be allowed once the resend interval elapses for a resendable event")
	}
}

func TestTrackerAllowsSendWhenContentChanges(t *testing.T) {
	store := memory.NewNotificationTrackerStore(func(userID string, matchID uuid.UUID, event models.NotificationEventType, channel models.ChannelType) string {
		return DedupHash(userID, matchID, event, channel)
	})
	tracker := NewTracker(store, false)
	ctx := context.Background()
	msg := testMessage(models.EventNewMatch)
	now := time.Now()

	if err := tracker.RecordAttempt(ctx, msg, models.ChannelEmail, "content-v1", now, true, nil); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	allowed, err := tracker.ShouldSend(ctx, msg, models.ChannelEmail, "content-v2", time.Hour, now.Add(time.Second))
	if err != nil {
		t.Fatalf("ShouldSend: %v", err)
	}
	if !allowed {
		t.Fatalf("expected a content change to bypass dedup regardless of event type")
	}
}

func TestAggressiveDedupStrategyBlocksAnyRepeatRegardlessOfContent(t *testing.T) {
	store := memory.NewNotificationTrackerStore(func(userID string, matchID uuid.UUID, event models.NotificationEventType, channel models.ChannelType) string {
		return DedupHash(userID, matchID, event, channel)
	})
	tracker := NewTracker(store, true)
	ctx := context.Background()
	msg := testMessage(models.EventNewMatch)
	now := time.Now()

	if err := tracker.RecordAttempt(ctx, msg, models.ChannelEmail, "content-v1", now, true, nil); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	allowed, err := tracker.ShouldSend(ctx, msg, models.ChannelEmail, "content-v2", time.Hour, now.Add(time.Second))
	if err != nil {
		t.Fatalf("ShouldSend: %v", err)
	}
	if allowed {
		t.Fatalf("aggressive strategy must block resends even when content changes")
	}
}
