// Package interfaces defines the capability boundaries every pipeline stage
// depends on, so stage logic never imports a concrete store or transport
// directly.
package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jobmatch-ai/pipeline/internal/models"
)

// JobRepository is the persistence contract for Job and its child rows.
type JobRepository interface {
	UpsertByFingerprint(ctx context.Context, job *models.Job) (created bool, err error)
	UpsertSource(ctx context.Context, src models.JobPostSource) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListUnextracted(ctx context.Context, limit int) ([]*models.Job, error)
	ListUnembedded(ctx context.Context, limit int) ([]*models.Job, error)
	MarkExtracted(ctx context.Context, job *models.Job, reqs []models.JobRequirementUnit) error
	MarkEmbedded(ctx context.Context, jobID uuid.UUID, summaryEmbedding []float32) error
	UpdateRequirementEmbeddings(ctx context.Context, requirements []models.JobRequirementUnit) error
	ListRequirements(ctx context.Context, jobID uuid.UUID) ([]models.JobRequirementUnit, error)
	ListFacets(ctx context.Context, jobID uuid.UUID) ([]models.JobFacetEmbedding, error)

	// ClaimFacetBatch atomically picks up to n jobs needing facet
	// extraction, marking them in_progress for claimedBy, using
	// SELECT ... FOR UPDATE SKIP LOCKED semantics (§4.5). It also resets
	// stale in_progress claims older than staleAfter and quarantines jobs
	// whose retry count has reached maxRetries before claiming new work.
	ClaimFacetBatch(ctx context.Context, claimedBy string, n int, staleAfter time.Duration, maxRetries int) ([]*models.Job, error)
	UpsertFacets(ctx context.Context, jobID uuid.UUID, contentHash string, facets []models.JobFacetEmbedding) error
	ReleaseFacetClaim(ctx context.Context, jobID uuid.UUID, err error) error
}

// ResumeRepository is the persistence contract for StructuredResume.
type ResumeRepository interface {
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.StructuredResume, error)
	Upsert(ctx context.Context, resume *models.StructuredResume) error
	MarkEmbedded(ctx context.Context, resumeID uuid.UUID, units []models.ResumeEvidenceUnit) error
}

// MatchRepository is the persistence contract for JobMatch, including the
// active/stale transition and cascading invalidation from §4.10. UpsertActive
// applies the full (job_id, resume_fingerprint) branching in one transaction:
// insert if no active row exists, supersede-to-stale and insert if the
// content hash changed, or update in place (preserving notified) unless
// recalculateExisting is false, in which case it is a no-op. Child
// JobMatchRequirement rows are always replaced wholesale.
type MatchRepository interface {
	UpsertActive(ctx context.Context, match *models.JobMatch, recalculateExisting bool) (models.MatchTransition, error)
	InvalidateForJob(ctx context.Context, jobID uuid.UUID, reason string) error
	InvalidateForResume(ctx context.Context, resumeFingerprint string, reason string) error
	ListActiveForResume(ctx context.Context, resumeID uuid.UUID) ([]*models.JobMatch, error)
}

// VectorStore retrieves the top-K nearest neighbors of a query embedding,
// backed by a cosine-distance index (§4.8 stage 1).
type VectorStore interface {
	TopKJobsBySummary(ctx context.Context, query []float32, k int, remoteOnly bool) ([]uuid.UUID, error)
}

// LLMProvider is the OpenAI-compatible chat-completions + embeddings
// contract used for requirement/facet/resume extraction (§4.4–§4.7).
// Implementing an actual provider is a Non-goal; this repo ships one HTTP
// client against that contract.
type LLMProvider interface {
	ExtractStructured(ctx context.Context, prompt string, schemaName string, schema []byte) (json []byte, err error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ScraperClient is the submit/poll contract for an external scraping
// service (§4.2). Implementing the scraper itself is a Non-goal.
type ScraperClient interface {
	Submit(ctx context.Context, site, query string) (taskID string, err error)
	WaitForResult(ctx context.Context, taskID string, pollInterval, jobTimeout time.Duration, stop <-chan struct{}) (payload []byte, err error)
}

// NotificationChannel delivers one rendered message over one transport.
type NotificationChannel interface {
	Type() models.ChannelType
	Send(ctx context.Context, msg models.NotificationMessage) error
}

// SharedStore is a small cross-process KV store with TTL, used for
// cross-worker rate-limit coordination (§4.11) and by the in-app
// notification channel. Backed by Redis when notifications.redis_url is set,
// otherwise by the in-process memory.SharedStore.
type SharedStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// NotificationTrackerStore persists dedup records for the notifier.
type NotificationTrackerStore interface {
	Get(ctx context.Context, userID string, matchID uuid.UUID, event models.NotificationEventType, channel models.ChannelType) (*models.NotificationTracker, error)
	Put(ctx context.Context, t *models.NotificationTracker) error
}

// TaskQueue is the fallback async queue used when no external broker is
// configured (§4.11 `use_async_queue`).
type TaskQueue interface {
	Enqueue(ctx context.Context, msg models.NotificationMessage) error
	Dequeue(ctx context.Context) (models.NotificationMessage, func() error, error)
}
