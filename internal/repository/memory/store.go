// Package memory implements every interfaces.* contract with plain
// mutex-guarded maps, for use as the fast, dependency-free test double for
// the pgx-backed internal/repository/postgres implementations. Grounded on
// the teacher's storage/badger test doubles (one struct per concern,
// guarded by a single mutex, no real persistence).
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobmatch-ai/pipeline/internal/models"
)

// Clock lets tests control "now" instead of depending on wall-clock time.
type Clock func() time.Time

// JobStore is an in-memory interfaces.JobRepository.
type JobStore struct {
	mu           sync.Mutex
	now          Clock
	jobs         map[uuid.UUID]*models.Job
	byFingerprint map[string]uuid.UUID
	sources      map[string]uuid.UUID // "site|url" -> job id
	requirements map[uuid.UUID][]models.JobRequirementUnit
	facets       map[uuid.UUID][]models.JobFacetEmbedding
}

// NewJobStore builds an empty JobStore. If now is nil, time.Now is used.
func NewJobStore(now Clock) *JobStore {
	if now == nil {
		now = time.Now
	}
	return &JobStore{
		now:           now,
		jobs:          make(map[uuid.UUID]*models.Job),
		byFingerprint: make(map[string]uuid.UUID),
		sources:       make(map[string]uuid.UUID),
		requirements:  make(map[uuid.UUID][]models.JobRequirementUnit),
		facets:        make(map[uuid.UUID][]models.JobFacetEmbedding),
	}
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	c.Skills = append([]string(nil), j.Skills...)
	return &c
}

func (s *JobStore) UpsertByFingerprint(ctx context.Context, job *models.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.byFingerprint[job.CanonicalFingerprint]; ok {
		existing := s.jobs[id]
		contentChanged := existing.ContentHash != job.ContentHash
		job.ID = id
		job.FirstSeenAt = existing.FirstSeenAt
		job.LastSeenAt = now
		job.IsExtracted = existing.IsExtracted
		job.IsEmbedded = existing.IsEmbedded
		job.FacetStatus = existing.FacetStatus
		job.FacetExtractionHash = existing.FacetExtractionHash
		job.FacetRetryCount = existing.FacetRetryCount
		if contentChanged {
			job.IsExtracted = false
			job.IsEmbedded = false
			job.FacetStatus = models.FacetStatusPending
			job.FacetRetryCount = 0
			job.FacetExtractionHash = nil
		}
		s.jobs[id] = cloneJob(job)
		return false, nil
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.FirstSeenAt = now
	job.LastSeenAt = now
	job.FacetStatus = models.FacetStatusPending
	s.jobs[job.ID] = cloneJob(job)
	s.byFingerprint[job.CanonicalFingerprint] = job.ID
	return true, nil
}

func (s *JobStore) UpsertSource(ctx context.Context, src models.JobPostSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.Site+"|"+src.URL] = src.JobID
	return nil
}

func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(job), nil
}

func (s *JobStore) ListUnextracted(ctx context.Context, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.sortedByFirstSeen() {
		if !j.IsExtracted && j.Description != "" {
			out = append(out, cloneJob(j))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *JobStore) ListUnembedded(ctx context.Context, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.sortedByFirstSeen() {
		if j.IsExtracted && !j.IsEmbedded {
			out = append(out, cloneJob(j))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *JobStore) sortedByFirstSeen() []*models.Job {
	out := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].FirstSeenAt.Before(out[k].FirstSeenAt) })
	return out
}

func (s *JobStore) MarkExtracted(ctx context.Context, job *models.Job, reqs []models.JobRequirementUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s not found", job.ID)
	}
	existing.IsExtracted = true
	existing.SalaryMin = job.SalaryMin
	existing.SalaryMax = job.SalaryMax
	existing.Currency = job.Currency
	existing.JobLevel = job.JobLevel
	existing.MinYearsExperience = job.MinYearsExperience

	for i := range reqs {
		if reqs[i].ID == uuid.Nil {
			reqs[i].ID = uuid.New()
		}
		reqs[i].JobID = job.ID
	}
	s.requirements[job.ID] = append([]models.JobRequirementUnit(nil), reqs...)
	return nil
}

func (s *JobStore) MarkEmbedded(ctx context.Context, jobID uuid.UUID, summaryEmbedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.IsEmbedded = true
	job.SummaryEmbedding = summaryEmbedding
	return nil
}

func (s *JobStore) UpdateRequirementEmbeddings(ctx context.Context, requirements []models.JobRequirementUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[uuid.UUID][]float32, len(requirements))
	for _, r := range requirements {
		byID[r.ID] = r.Embedding
	}
	for jobID, reqs := range s.requirements {
		for i := range reqs {
			if emb, ok := byID[reqs[i].ID]; ok {
				reqs[i].Embedding = emb
			}
		}
		s.requirements[jobID] = reqs
	}
	return nil
}

func (s *JobStore) ListRequirements(ctx context.Context, jobID uuid.UUID) ([]models.JobRequirementUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.JobRequirementUnit(nil), s.requirements[jobID]...), nil
}

func (s *JobStore) ListFacets(ctx context.Context, jobID uuid.UUID) ([]models.JobFacetEmbedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.JobFacetEmbedding(nil), s.facets[jobID]...), nil
}

func (s *JobStore) ClaimFacetBatch(ctx context.Context, claimedBy string, n int, staleAfter time.Duration, maxRetries int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, j := range s.jobs {
		if j.FacetStatus == models.FacetStatusInProgress && j.FacetClaimedAt != nil && j.FacetClaimedAt.Before(now.Add(-staleAfter)) {
			j.FacetStatus = models.FacetStatusPending
			j.FacetClaimedBy = nil
			j.FacetClaimedAt = nil
		}
	}
	for _, j := range s.jobs {
		if j.FacetStatus == models.FacetStatusPending && j.FacetRetryCount >= maxRetries {
			j.FacetStatus = models.FacetStatusQuarantined
		}
	}

	var claimed []*models.Job
	for _, j := range s.sortedByFirstSeen() {
		if len(claimed) >= n {
			break
		}
		if j.FacetStatus != models.FacetStatusPending || j.Description == "" {
			continue
		}
		if j.FacetExtractionHash != nil && *j.FacetExtractionHash == j.ContentHash {
			continue
		}
		if j.FacetRetryCount >= maxRetries {
			continue
		}
		j.FacetStatus = models.FacetStatusInProgress
		claimedBy := claimedBy
		j.FacetClaimedBy = &claimedBy
		claimedAt := now
		j.FacetClaimedAt = &claimedAt
		j.FacetRetryCount++
		claimed = append(claimed, cloneJob(j))
	}
	return claimed, nil
}

func (s *JobStore) UpsertFacets(ctx context.Context, jobID uuid.UUID, contentHash string, facets []models.JobFacetEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facets[jobID] = append([]models.JobFacetEmbedding(nil), facets...)
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.FacetStatus = models.FacetStatusDone
	job.FacetExtractionHash = &contentHash
	job.FacetClaimedBy = nil
	job.FacetClaimedAt = nil
	job.FacetRetryCount = 0
	job.FacetLastError = nil
	return nil
}

func (s *JobStore) ReleaseFacetClaim(ctx context.Context, jobID uuid.UUID, releaseErr error) error {
	if releaseErr == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.FacetStatus = models.FacetStatusPending
	job.FacetClaimedBy = nil
	job.FacetClaimedAt = nil
	msg := releaseErr.Error()
	job.FacetLastError = &msg
	return nil
}

// ResumeStore is an in-memory interfaces.ResumeRepository.
type ResumeStore struct {
	mu            sync.Mutex
	byFingerprint map[string]*models.StructuredResume
}

func NewResumeStore() *ResumeStore {
	return &ResumeStore{byFingerprint: make(map[string]*models.StructuredResume)}
}

func (s *ResumeStore) GetByFingerprint(ctx context.Context, fingerprint string) (*models.StructuredResume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byFingerprint[fingerprint]
	if !ok {
		return nil, nil
	}
	clone := *r
	clone.EvidenceUnits = append([]models.ResumeEvidenceUnit(nil), r.EvidenceUnits...)
	return &clone, nil
}

func (s *ResumeStore) Upsert(ctx context.Context, resume *models.StructuredResume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if resume.ID == uuid.Nil {
		resume.ID = uuid.New()
	}
	clone := *resume
	clone.EvidenceUnits = append([]models.ResumeEvidenceUnit(nil), resume.EvidenceUnits...)
	for i := range clone.EvidenceUnits {
		if clone.EvidenceUnits[i].ID == uuid.Nil {
			clone.EvidenceUnits[i].ID = uuid.New()
		}
		clone.EvidenceUnits[i].ResumeID = resume.ID
	}
	s.byFingerprint[resume.ResumeFingerprint] = &clone
	return nil
}

func (s *ResumeStore) MarkEmbedded(ctx context.Context, resumeID uuid.UUID, units []models.ResumeEvidenceUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[uuid.UUID][]float32, len(units))
	for _, u := range units {
		byID[u.ID] = u.Embedding
	}
	for _, r := range s.byFingerprint {
		if r.ID != resumeID {
			continue
		}
		r.IsEmbedded = true
		for i := range r.EvidenceUnits {
			if emb, ok := byID[r.EvidenceUnits[i].ID]; ok {
				r.EvidenceUnits[i].Embedding = emb
			}
		}
	}
	return nil
}

// MatchStore is an in-memory interfaces.MatchRepository.
type MatchStore struct {
	mu      sync.Mutex
	active  map[string]*models.JobMatch // "job_id|resume_fingerprint" -> active row
	history []*models.JobMatch
}

func NewMatchStore() *MatchStore {
	return &MatchStore{active: make(map[string]*models.JobMatch)}
}

func activeKey(jobID uuid.UUID, resumeFingerprint string) string {
	return jobID.String() + "|" + resumeFingerprint
}

func (s *MatchStore) UpsertActive(ctx context.Context, m *models.JobMatch, recalculateExisting bool) (models.MatchTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey(m.JobID, m.ResumeFingerprint)
	existing, ok := s.active[key]
	if !ok {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.Status = models.MatchStatusActive
		clone := *m
		s.active[key] = &clone
		return models.MatchInserted, nil
	}

	if existing.JobContentHash != m.JobContentHash {
		existing.Status = models.MatchStatusStale
		s.history = append(s.history, existing)
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.Status = models.MatchStatusActive
		m.Notified = false
		clone := *m
		s.active[key] = &clone
		return models.MatchSupersededStale, nil
	}

	if !recalculateExisting {
		return models.MatchSkippedUnchanged, nil
	}

	m.ID = existing.ID
	m.Notified = existing.Notified
	m.Status = models.MatchStatusActive
	clone := *m
	s.active[key] = &clone
	return models.MatchUpdatedInPlace, nil
}

func (s *MatchStore) InvalidateForJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, m := range s.active {
		if m.JobID == jobID {
			m.Status = models.MatchStatusStale
			m.InvalidatedReason = &reason
			s.history = append(s.history, m)
			delete(s.active, key)
		}
	}
	return nil
}

func (s *MatchStore) InvalidateForResume(ctx context.Context, resumeFingerprint string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, m := range s.active {
		if m.ResumeFingerprint == resumeFingerprint {
			m.Status = models.MatchStatusStale
			m.InvalidatedReason = &reason
			s.history = append(s.history, m)
			delete(s.active, key)
		}
	}
	return nil
}

func (s *MatchStore) ListActiveForResume(ctx context.Context, resumeID uuid.UUID) ([]*models.JobMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.JobMatch
	for _, m := range s.active {
		if m.ResumeID == resumeID {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

// VectorIndex is an in-memory interfaces.VectorStore using brute-force
// cosine distance, sufficient for tests against small fixture sets.
type VectorIndex struct {
	mu   sync.Mutex
	jobs *JobStore
}

func NewVectorIndex(jobs *JobStore) *VectorIndex {
	return &VectorIndex{jobs: jobs}
}

func (v *VectorIndex) TopKJobsBySummary(ctx context.Context, query []float32, k int, remoteOnly bool) ([]uuid.UUID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	type scored struct {
		id   uuid.UUID
		dist float64
	}
	var candidates []scored
	v.jobs.mu.Lock()
	for _, j := range v.jobs.jobs {
		if !j.IsEmbedded {
			continue
		}
		if remoteOnly && !j.IsRemote {
			continue
		}
		candidates = append(candidates, scored{id: j.ID, dist: cosineDistance(query, j.SummaryEmbedding)})
	}
	v.jobs.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 2 // maximally dissimilar sentinel
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - cos
}

// NotificationTrackerStore is an in-memory interfaces.NotificationTrackerStore.
type NotificationTrackerStore struct {
	mu      sync.Mutex
	byHash  map[string]*models.NotificationTracker
	dedupFn func(userID string, matchID uuid.UUID, event models.NotificationEventType, channel models.ChannelType) string
}

// NewNotificationTrackerStore builds an empty store. dedupFn computes the
// same dedup_hash the caller (internal/notify) uses, so Get/Put key
// consistently without this package importing internal/notify.
func NewNotificationTrackerStore(dedupFn func(string, uuid.UUID, models.NotificationEventType, models.ChannelType) string) *NotificationTrackerStore {
	return &NotificationTrackerStore{byHash: make(map[string]*models.NotificationTracker), dedupFn: dedupFn}
}

func (s *NotificationTrackerStore) Get(ctx context.Context, userID string, matchID uuid.UUID, event models.NotificationEventType, channel models.ChannelType) (*models.NotificationTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byHash[s.dedupFn(userID, matchID, event, channel)]
	if !ok {
		return nil, nil
	}
	clone := *t
	return &clone, nil
}

func (s *NotificationTrackerStore) Put(ctx context.Context, t *models.NotificationTracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *t
	s.byHash[t.DedupHash] = &clone
	return nil
}

// SharedStore is an in-memory interfaces.SharedStore with TTL expiry,
// standing in for Redis in tests (§4.11 cross-worker rate-limit key).
type SharedStore struct {
	mu      sync.Mutex
	now     Clock
	entries map[string]sharedEntry
}

type sharedEntry struct {
	value   string
	counter int64
	expires time.Time
}

func NewSharedStore(now Clock) *SharedStore {
	if now == nil {
		now = time.Now
	}
	return &SharedStore{now: now, entries: make(map[string]sharedEntry)}
}

func (s *SharedStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expires) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *SharedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = sharedEntry{value: value, expires: s.now().Add(ttl)}
	return nil
}

func (s *SharedStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expires) {
		e = sharedEntry{expires: s.now().Add(ttl)}
	}
	e.counter++
	s.entries[key] = e
	return e.counter, nil
}

// TaskQueue is an in-memory FIFO interfaces.TaskQueue backed by a channel,
// standing in for the badger-backed queue in fast unit tests.
type TaskQueue struct {
	ch chan models.NotificationMessage
}

func NewTaskQueue(capacity int) *TaskQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &TaskQueue{ch: make(chan models.NotificationMessage, capacity)}
}

func (q *TaskQueue) Enqueue(ctx context.Context, msg models.NotificationMessage) error {
	select {
	case q.ch <- msg:
		return nil
	default:
		return fmt.Errorf("task queue full")
	}
}

func (q *TaskQueue) Dequeue(ctx context.Context) (models.NotificationMessage, func() error, error) {
	select {
	case msg := <-q.ch:
		return msg, func() error { return nil }, nil
	default:
		return models.NotificationMessage{}, nil, fmt.Errorf("task queue empty")
	}
}
