// Package notify implements §4.11 end to end: channel factory, the
// dedup tracker, async dispatch with a synchronous fallback, retry with
// backoff, and cross-worker rate-limit coordination.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/models"
)

// retryBackoff is the fixed backoff schedule from §4.11: the waits before
// each of the up to three retries that follow the first send.
var retryBackoff = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}

// maxRateLimitRetries is the default consecutive rate-limit failure count
// after which a task is recorded as failed (§4.11).
const maxRateLimitRetries = 3

// Config bounds the dispatcher's behavior.
type Config struct {
	DeduplicationEnabled bool
	ResendInterval       time.Duration
	UseAsyncQueue        bool
	MaxWait              time.Duration
}

// Dispatcher routes one rendered NotificationMessage to every configured,
// enabled channel, applying dedup, retry, and rate-limit coordination.
type Dispatcher struct {
	channels map[models.ChannelType]interfaces.NotificationChannel
	tracker  *Tracker
	limiter  *RateLimitCoordinator
	queue    interfaces.TaskQueue
	cfg      Config
	logger   arbor.ILogger
}

// NewDispatcher builds a Dispatcher. queue may be nil, in which case every
// send is synchronous regardless of cfg.UseAsyncQueue.
func NewDispatcher(channels map[models.ChannelType]interfaces.NotificationChannel, tracker *Tracker, limiter *RateLimitCoordinator, queue interfaces.TaskQueue, cfg Config, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{channels: channels, tracker: tracker, limiter: limiter, queue: queue, cfg: cfg, logger: logger}
}

// Dispatch sends msg over every channel in channelOrder (or every registered
// channel if channelOrder is empty). Each channel dispatch is independent:
// one channel's failure does not block another.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.NotificationMessage, contentHash string, channelOrder ...models.ChannelType) error {
	targets := channelOrder
	if len(targets) == 0 {
		for ct := range d.channels {
			targets = append(targets, ct)
		}
	}

	var errs []error
	for _, ct := range targets {
		channel, ok := d.channels[ct]
		if !ok {
			continue
		}
		if err := d.dispatchOne(ctx, channel, msg, contentHash); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ct, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, channel interfaces.NotificationChannel, msg models.NotificationMessage, contentHash string) error {
	if d.cfg.DeduplicationEnabled {
		allowed, err := d.tracker.ShouldSend(ctx, msg, channel.Type(), contentHash, d.cfg.ResendInterval, time.Now())
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if !allowed {
			d.logger.Debug().Str("event_type", string(msg.EventType)).Str("channel", string(channel.Type())).
				Msg("notification blocked by dedup strategy")
			return nil
		}
	}

	if d.cfg.UseAsyncQueue && d.queue != nil {
		queued := msg
		queued.Metadata = withQueueMetadata(msg.Metadata, channel.Type(), contentHash)
		if err := d.queue.Enqueue(ctx, queued); err != nil {
			d.logger.Warn().Err(err).Msg("failed to enqueue notification, falling back to synchronous dispatch")
		} else {
			return nil
		}
	}

	return d.sendWithRetry(ctx, channel, msg, contentHash)
}

// contentHashMetadataKey and channelMetadataKey stash the dedup content
// hash and destination channel inside a queued message's metadata, since
// interfaces.TaskQueue carries only the rendered message. SendQueued
// strips both back out before handing the message to a channel.
const (
	contentHashMetadataKey = "_content_hash"
	channelMetadataKey     = "_channel_type"
)

func withQueueMetadata(metadata map[string]string, channelType models.ChannelType, contentHash string) map[string]string {
	out := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		out[k] = v
	}
	out[contentHashMetadataKey] = contentHash
	out[channelMetadataKey] = string(channelType)
	return out
}

// SendQueued runs the retry/rate-limit/tracker pipeline for one message
// dequeued from the async TaskQueue, against the channel it was enqueued
// for. It is the counterpart to the synchronous path inside dispatchOne,
// called by the worker pool that drains the queue.
func (d *Dispatcher) SendQueued(ctx context.Context, msg models.NotificationMessage) error {
	channelType := models.ChannelType(msg.Metadata[channelMetadataKey])
	contentHash := msg.Metadata[contentHashMetadataKey]
	delete(msg.Metadata, channelMetadataKey)
	delete(msg.Metadata, contentHashMetadataKey)

	channel, ok := d.channels[channelType]
	if !ok {
		return fmt.Errorf("no channel registered for %s", channelType)
	}
	return d.sendWithRetry(ctx, channel, msg, contentHash)
}

// sendWithRetry calls channel.Send once and retries up to three more times,
// waiting 30s, 60s and 120s before the retries (it stops early after
// maxRateLimitRetries consecutive rate-limit errors), honoring cross-worker
// rate-limit coordination between attempts and recording the outcome in the
// tracker.
func (d *Dispatcher) sendWithRetry(ctx context.Context, channel interfaces.NotificationChannel, msg models.NotificationMessage, contentHash string) error {
	var lastErr error
	rateLimitStreak := 0

	for attempt := 0; attempt <= len(retryBackoff); attempt++ {
		if d.limiter != nil {
			if err := d.limiter.WaitIfLimited(ctx, string(channel.Type()), time.Now()); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		err := channel.Send(ctx, msg)
		if err == nil {
			return d.record(ctx, msg, channel.Type(), contentHash, true, nil)
		}

		lastErr = err
		var rlErr *RateLimitError
		if errors.As(err, &rlErr) {
			rateLimitStreak++
			if d.limiter != nil {
				if recErr := d.limiter.Record(ctx, string(channel.Type()), rlErr.RetryAfter, time.Now()); recErr != nil {
					d.logger.Warn().Err(recErr).Msg("failed to record cross-worker rate limit")
				}
			}
			if rateLimitStreak >= maxRateLimitRetries {
				break
			}
		}

		if attempt < len(retryBackoff) {
			select {
			case <-ctx.Done():
				return d.record(ctx, msg, channel.Type(), contentHash, false, ctx.Err())
			case <-time.After(retryBackoff[attempt]):
			}
		}
	}

	return d.record(ctx, msg, channel.Type(), contentHash, false, lastErr)
}

func (d *Dispatcher) record(ctx context.Context, msg models.NotificationMessage, channel models.ChannelType, contentHash string, success bool, sendErr error) error {
	if err := d.tracker.RecordAttempt(ctx, msg, channel, contentHash, time.Now(), success, sendErr); err != nil {
		d.logger.Error().Err(err).Msg("failed to record notification tracker entry")
	}
	if sendErr != nil {
		return sendErr
	}
	return nil
}
