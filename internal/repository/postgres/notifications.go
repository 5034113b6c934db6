package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jobmatch-ai/pipeline/internal/models"
	"github.com/jobmatch-ai/pipeline/internal/notify"
)

// NotificationTrackerStore is the pgx-backed interfaces.NotificationTrackerStore,
// keyed on dedup_hash per §3/§4.11.
type NotificationTrackerStore struct {
	db *DB
}

// Get loads the tracker row for one (user, match, event, channel) tuple, or
// nil if it has never been sent.
func (s *NotificationTrackerStore) Get(ctx context.Context, userID string, matchID uuid.UUID, event models.NotificationEventType, channel models.ChannelType) (*models.NotificationTracker, error) {
	var t models.NotificationTracker
	var lastError *string
	err := s.db.pool.QueryRow(ctx,
		`SELECT user_id, job_match_id, event_type, channel_type, dedup_hash, content_hash,
		        last_sent_at, send_count, sent_successfully, error_message
		 FROM notification_trackers WHERE dedup_hash = $1`,
		notify.DedupHash(userID, matchID, event, channel),
	).Scan(&t.UserID, &t.MatchID, &t.EventType, &t.ChannelType, &t.DedupHash, &t.ContentHash,
		&t.SentAt, &t.SentCount, &t.SentSuccessfully, &lastError)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load notification tracker: %w", err)
	}
	t.LastError = lastError
	return &t, nil
}

// Put upserts the tracker row by dedup_hash; the last writer's counters win.
func (s *NotificationTrackerStore) Put(ctx context.Context, t *models.NotificationTracker) error {
	_, err := s.db.pool.Exec(ctx,
		`INSERT INTO notification_trackers
		   (user_id, job_match_id, event_type, channel_type, dedup_hash, content_hash,
		    last_sent_at, send_count, sent_successfully, error_message)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (dedup_hash) DO UPDATE SET
		   content_hash = EXCLUDED.content_hash,
		   last_sent_at = EXCLUDED.last_sent_at,
		   send_count = EXCLUDED.send_count,
		   sent_successfully = EXCLUDED.sent_successfully,
		   error_message = EXCLUDED.error_message`,
		t.UserID, t.MatchID, t.EventType, t.ChannelType, t.DedupHash, t.ContentHash,
		t.SentAt, t.SentCount, t.SentSuccessfully, t.LastError,
	)
	if err != nil {
		return fmt.Errorf("upsert notification tracker: %w", err)
	}
	return nil
}
