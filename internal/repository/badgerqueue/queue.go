// Package badgerqueue implements the fallback async notification queue of
// §4.11 ("If queue unavailable or disabled, dispatch synchronously in the
// caller") for the opposite case: an embedded, disk-backed queue used when
// no external broker is configured. Grounded on the teacher's
// internal/storage/badger package (badgerhold.Store wrapping a BadgerDB
// connection, one record type per concern).
package badgerqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/jobmatch-ai/pipeline/internal/models"
)

// queuedTask is the persisted envelope for one pending notification,
// ordered for FIFO dequeue by EnqueuedAt.
type queuedTask struct {
	ID         string `badgerhold:"key"`
	EnqueuedAt time.Time `badgerhold:"index"`
	Message    models.NotificationMessage
}

// Queue is a badgerhold-backed interfaces.TaskQueue. Claim-then-delete is
// guarded by an in-process mutex since badgerhold has no SKIP LOCKED
// equivalent; that is sufficient because this queue only ever backs one
// process's worker pool (§4.11 is single-node async dispatch, unlike the
// facet claim protocol which is genuinely multi-process).
type Queue struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	mu     sync.Mutex
}

// Open opens (or creates) a badger database at dir for the async queue.
func Open(dir string, logger arbor.ILogger) (*Queue, error) {
	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.Logger = nil

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger notification queue: %w", err)
	}
	return &Queue{store: store, logger: logger}, nil
}

// Close releases the underlying badger database.
func (q *Queue) Close() error {
	if q.store == nil {
		return nil
	}
	return q.store.Close()
}

// Enqueue persists msg keyed by a fresh id, per §4.11 "enqueues a task
// keyed by a new notification id; the task carries the full payload."
func (q *Queue) Enqueue(ctx context.Context, msg models.NotificationMessage) error {
	task := queuedTask{
		ID:         uuid.NewString(),
		EnqueuedAt: time.Now(),
		Message:    msg,
	}
	if err := q.store.Insert(task.ID, task); err != nil {
		return fmt.Errorf("enqueue notification task: %w", err)
	}
	return nil
}

// Dequeue claims the oldest pending task, deleting it from the queue at once,
// and returns it along with an ack function that does nothing. A task whose
// processing fails or is interrupted is not re-queued (§4.11 retries happen
// inside the dispatcher, not by re-enqueuing).
func (q *Queue) Dequeue(ctx context.Context) (models.NotificationMessage, func() error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var tasks []queuedTask
	query := badgerhold.Where("EnqueuedAt").Ge(time.Time{}).SortBy("EnqueuedAt").Limit(1)
	if err := q.store.Find(&tasks, query); err != nil {
		return models.NotificationMessage{}, nil, fmt.Errorf("find queued notification: %w", err)
	}
	if len(tasks) == 0 {
		return models.NotificationMessage{}, nil, fmt.Errorf("notification queue empty")
	}

	task := tasks[0]
	if err := q.store.Delete(task.ID, queuedTask{}); err != nil {
		return models.NotificationMessage{}, nil, fmt.Errorf("claim queued notification: %w", err)
	}

	return task.Message, func() error { return nil }, nil
}
