// Package worker runs the bounded pool of notification senders that drains
// the async TaskQueue (§4.11 `use_async_queue`), independent of the
// orchestrator's own per-cycle stage sequencing (§5).
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/common"
	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/notify"
)

// idleBackoff is how long a worker sleeps after an empty dequeue, so an
// idle queue doesn't spin the pool at 100% CPU.
const idleBackoff = 500 * time.Millisecond

// Pool runs numWorkers goroutines, each repeatedly dequeuing one queued
// notification and running it through the dispatcher's retry/rate-limit
// pipeline.
type Pool struct {
	queue      interfaces.TaskQueue
	dispatcher *notify.Dispatcher
	logger     arbor.ILogger
	numWorkers int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Pool. Call Start to spawn its workers and Stop to drain them.
func New(queue interfaces.TaskQueue, dispatcher *notify.Dispatcher, logger arbor.ILogger, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Pool{queue: queue, dispatcher: dispatcher, logger: logger, numWorkers: numWorkers}
}

// Start spawns the pool's workers via common.SafeGoWithContext, so a panic
// is recovered and logged instead of crashing the process. The panicking
// worker's goroutine still ends and is not restarted.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info().Int("num_workers", p.numWorkers).Msg("starting notification worker pool")
	for i := 0; i < p.numWorkers; i++ {
		id := i
		p.wg.Add(1)
		common.SafeGoWithContext(ctx, p.logger, "notification-worker", func() {
			defer p.wg.Done()
			p.run(ctx, id)
		})
	}
}

// Stop signals every worker to exit and waits for them to drain.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("notification worker pool stopped")
}

func (p *Pool) run(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, ack, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.sleep(ctx, idleBackoff)
			continue
		}

		if err := p.dispatcher.SendQueued(ctx, msg); err != nil {
			p.logger.Warn().Err(err).Int("worker_id", workerID).Str("event_type", string(msg.EventType)).
				Msg("queued notification send failed")
		}
		if ack != nil {
			if err := ack(); err != nil {
				p.logger.Error().Err(err).Int("worker_id", workerID).Msg("failed to acknowledge dequeued notification")
			}
		}
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
