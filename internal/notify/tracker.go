package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/models"
)

// DedupHash computes the tracker key, ported verbatim from
// notification/tracker.py.
func DedupHash(userID string, matchID fmt.Stringer, event models.NotificationEventType, channel models.ChannelType) string {
	sum := sha256.Sum256([]byte(userID + "|" + matchID.String() + "|" + string(event) + "|" + string(channel)))
	return hex.EncodeToString(sum[:])
}

// MatchContentHash hashes the scored fields of a JobMatch that matter for
// dedup: a score change should be treated as new content even if the event
// type and channel are unchanged.
func MatchContentHash(m *models.JobMatch) string {
	want := "none"
	if m.WantScore != nil {
		want = fmt.Sprintf("%.4f", *m.WantScore)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%.4f|%s|%.4f|%s", m.FitScore, want, m.OverallScore, m.Status)))
	return hex.EncodeToString(sum[:])
}

// DedupStrategy decides whether a notification should be sent, given its
// prior tracker row (nil if never sent).
type DedupStrategy interface {
	ShouldSend(existing *models.NotificationTracker, event models.NotificationEventType, contentHash string, resendInterval time.Duration, now time.Time) bool
}

// DefaultDedupStrategy is the original's non-legacy resend policy: allow on
// first send or content change, otherwise only resend resendable event
// types after the resend interval elapses.
type DefaultDedupStrategy struct{}

func (DefaultDedupStrategy) ShouldSend(existing *models.NotificationTracker, event models.NotificationEventType, contentHash string, resendInterval time.Duration, now time.Time) bool {
	if existing == nil {
		return true
	}
	if existing.ContentHash != contentHash {
		return true
	}
	if !models.ResendableEvents[event] {
		return false
	}
	return now.After(existing.SentAt.Add(resendInterval))
}

// AggressiveDedupStrategy blocks every resend once a tracker row exists,
// regardless of content change or event type, ported from
// notification/tracker.py's AggressiveDeduplicationStrategy.
type AggressiveDedupStrategy struct{}

func (AggressiveDedupStrategy) ShouldSend(existing *models.NotificationTracker, _ models.NotificationEventType, _ string, _ time.Duration, _ time.Time) bool {
	return existing == nil
}

// Tracker wraps a NotificationTrackerStore with the dedup decision and the
// post-dispatch upsert.
type Tracker struct {
	store    interfaces.NotificationTrackerStore
	strategy DedupStrategy
}

// NewTracker builds a Tracker. aggressive selects AggressiveDedupStrategy
// instead of DefaultDedupStrategy.
func NewTracker(store interfaces.NotificationTrackerStore, aggressive bool) *Tracker {
	var strategy DedupStrategy = DefaultDedupStrategy{}
	if aggressive {
		strategy = AggressiveDedupStrategy{}
	}
	return &Tracker{store: store, strategy: strategy}
}

// ShouldSend reports whether msg should be dispatched over channel, given
// its current dedup state.
func (t *Tracker) ShouldSend(ctx context.Context, msg models.NotificationMessage, channel models.ChannelType, contentHash string, resendInterval time.Duration, now time.Time) (bool, error) {
	existing, err := t.store.Get(ctx, msg.UserID, msg.MatchID, msg.EventType, channel)
	if err != nil {
		return false, fmt.Errorf("load notification tracker: %w", err)
	}
	return t.strategy.ShouldSend(existing, msg.EventType, contentHash, resendInterval, now), nil
}

// RecordAttempt upserts the tracker row by dedup_hash after one dispatch
// attempt, successful or not.
func (t *Tracker) RecordAttempt(ctx context.Context, msg models.NotificationMessage, channel models.ChannelType, contentHash string, sentAt time.Time, success bool, sendErr error) error {
	existing, err := t.store.Get(ctx, msg.UserID, msg.MatchID, msg.EventType, channel)
	if err != nil {
		return fmt.Errorf("load notification tracker: %w", err)
	}

	rec := &models.NotificationTracker{
		UserID:      msg.UserID,
		MatchID:     msg.MatchID,
		EventType:   msg.EventType,
		ChannelType: channel,
		DedupHash:   DedupHash(msg.UserID, msg.MatchID, msg.EventType, channel),
		ContentHash: contentHash,
		SentAt:      sentAt,
		SentCount:   1,
		SentSuccessfully: success,
	}
	if existing != nil {
		rec.SentCount = existing.SentCount + 1
	}
	if sendErr != nil {
		errStr := sendErr.Error()
		rec.LastError = &errStr
	}

	return t.store.Put(ctx, rec)
}
