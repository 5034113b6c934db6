package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jobmatch-ai/pipeline/internal/interfaces"
)

// RateLimitCoordinator implements the cross-worker rate-limit coordination
// of §4.11: a shared key `rate_limit:<channel>` holding the wall-clock
// deadline any worker must wait out before attempting that channel again.
type RateLimitCoordinator struct {
	store   interfaces.SharedStore
	maxWait time.Duration
}

// NewRateLimitCoordinator builds a RateLimitCoordinator.
func NewRateLimitCoordinator(store interfaces.SharedStore, maxWait time.Duration) *RateLimitCoordinator {
	return &RateLimitCoordinator{store: store, maxWait: maxWait}
}

// Record stores the rate-limit deadline so every other worker observes it,
// with TTL = retryAfter + 5s.
func (r *RateLimitCoordinator) Record(ctx context.Context, channel string, retryAfter time.Duration, now time.Time) error {
	deadline := now.Add(retryAfter)
	key := rateLimitKey(channel)
	return r.store.Set(ctx, key, strconv.FormatInt(deadline.Unix(), 10), retryAfter+5*time.Second)
}

// WaitIfLimited blocks (respecting ctx cancellation) if a rate-limit
// deadline is outstanding for channel, sleeping at most max_wait_seconds
// even if the real deadline is further out.
func (r *RateLimitCoordinator) WaitIfLimited(ctx context.Context, channel string, now time.Time) error {
	val, found, err := r.store.Get(ctx, rateLimitKey(channel))
	if err != nil {
		return fmt.Errorf("read rate limit key: %w", err)
	}
	if !found {
		return nil
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil
	}
	deadline := time.Unix(unix, 0)
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return nil
	}
	wait := remaining
	if wait > r.maxWait {
		wait = r.maxWait
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func rateLimitKey(channel string) string {
	return "rate_limit:" + channel
}
