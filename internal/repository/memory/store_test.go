package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jobmatch-ai/pipeline/internal/models"
)

func pendingJob(description string) *models.Job {
	return &models.Job{
		ID:                   uuid.New(),
		CanonicalFingerprint: uuid.NewString(),
		Description:          description,
		ContentHash:          "hash-" + description,
		FacetStatus:          models.FacetStatusPending,
	}
}

func TestClaimFacetBatchIsMutuallyExclusiveAcrossConcurrentClaimers(t *testing.T) {
	store := NewJobStore(nil)
	ctx := context.Background()

	const numJobs = 20
	for i := 0; i < numJobs; i++ {
		if _, err := store.UpsertByFingerprint(ctx, pendingJob(uuid.NewString())); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]string)
	)

	for w := 0; w < 4; w++ {
		workerName := uuid.NewString()
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			batch, err := store.ClaimFacetBatch(ctx, name, 5, time.Minute, 3)
			if err != nil {
				t.Errorf("claim batch: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, j := range batch {
				if prior, ok := claimed[j.ID]; ok {
					t.Errorf("job %s claimed by both %q and %q", j.ID, prior, name)
				}
				claimed[j.ID] = name
			}
		}(workerName)
	}
	wg.Wait()

	if len(claimed) == 0 {
		t.Fatalf("expected at least one job to be claimed")
	}
	if len(claimed) > numJobs {
		t.Fatalf("claimed more jobs than were seeded")
	}
}

func TestClaimFacetBatchSkipsAlreadyInProgressJobs(t *testing.T) {
	store := NewJobStore(nil)
	ctx := context.Background()
	job := pendingJob("a job")
	if _, err := store.UpsertByFingerprint(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	first, err := store.ClaimFacetBatch(ctx, "worker-a", 10, time.Minute, 3)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected to claim the one seeded job, got %d", len(first))
	}

	second, err := store.ClaimFacetBatch(ctx, "worker-b", 10, time.Minute, 3)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected no jobs available for a second claimer while the first claim is live, got %d", len(second))
	}
}

func TestClaimFacetBatchReclaimsStaleClaimsAfterTimeout(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := NewJobStore(clock)
	ctx := context.Background()
	job := pendingJob("a job")
	if _, err := store.UpsertByFingerprint(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	if _, err := store.ClaimFacetBatch(ctx, "worker-a", 10, time.Minute, 3); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	now = now.Add(2 * time.Minute)
	reclaimed, err := store.ClaimFacetBatch(ctx, "worker-b", 10, time.Minute, 3)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("expected the stale claim to be reclaimed, got %d jobs", len(reclaimed))
	}
}

func TestUpsertFacetsClearsClaimAndMarksDone(t *testing.T) {
	store := NewJobStore(nil)
	ctx := context.Background()
	job := pendingJob("a job")
	if _, err := store.UpsertByFingerprint(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	if _, err := store.ClaimFacetBatch(ctx, "worker-a", 10, time.Minute, 3); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := store.UpsertFacets(ctx, job.ID, job.ContentHash, []models.JobFacetEmbedding{
		{JobID: job.ID, FacetKey: models.FacetTechStack, FacetText: "go, postgres", Embedding: []float32{0.1}},
	}); err != nil {
		t.Fatalf("upsert facets: %v", err)
	}

	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.FacetStatus != models.FacetStatusDone {
		t.Fatalf("expected facet_status done, got %s", got.FacetStatus)
	}
	if got.FacetClaimedBy != nil {
		t.Fatalf("expected claim to be cleared after a successful upsert")
	}

	facets, err := store.ListFacets(ctx, job.ID)
	if err != nil {
		t.Fatalf("list facets: %v", err)
	}
	if len(facets) != 1 {
		t.Fatalf("expected 1 persisted facet, got %d", len(facets))
	}
}
