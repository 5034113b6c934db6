// Package persistence converts scored matches into the upsert-keyed
// JobMatch write pattern of §4.10: active/stale transition on content-hash
// change, in-place update respecting recalculate_existing, and bulk
// invalidation.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/common"
	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/models"
	"github.com/jobmatch-ai/pipeline/internal/score"
)

// Summary counts how many matches landed in each transition, for the cycle
// log line the orchestrator emits per run.
type Summary struct {
	Inserted         int
	SupersededStale  int
	UpdatedInPlace   int
	SkippedUnchanged int
}

// Outcome is one persisted match plus the transition UpsertActive reported
// for it, which the orchestrator uses to decide what (if anything) to
// notify about (§4.11).
type Outcome struct {
	Job        *models.Job
	Match      *models.JobMatch
	Transition models.MatchTransition
}

// Persister writes a batch of scored results for one resume.
type Persister struct {
	matches interfaces.MatchRepository
	logger  arbor.ILogger
}

// New builds a Persister.
func New(matches interfaces.MatchRepository, logger arbor.ILogger) *Persister {
	return &Persister{matches: matches, logger: logger}
}

// PersistBatch writes every scored result as the active JobMatch for its
// (job_id, resume_fingerprint) pair, per §4.10.
func (p *Persister) PersistBatch(ctx context.Context, resumeID uuid.UUID, resumeFingerprint string, results []score.Result, recalculateExisting bool) (Summary, []Outcome, error) {
	var summary Summary
	outcomes := make([]Outcome, 0, len(results))

	for _, r := range results {
		match := toJobMatch(resumeID, resumeFingerprint, r)

		transition, err := p.matches.UpsertActive(ctx, match, recalculateExisting)
		if err != nil {
			return summary, outcomes, fmt.Errorf("upsert match for job %s: %w", r.Preliminary.Job.ID, err)
		}

		switch transition {
		case models.MatchInserted:
			summary.Inserted++
		case models.MatchSupersededStale:
			summary.SupersededStale++
		case models.MatchUpdatedInPlace:
			summary.UpdatedInPlace++
		case models.MatchSkippedUnchanged:
			summary.SkippedUnchanged++
		}

		outcomes = append(outcomes, Outcome{Job: r.Preliminary.Job, Match: match, Transition: transition})
	}

	p.logger.Info().
		Int("inserted", summary.Inserted).
		Int("superseded_stale", summary.SupersededStale).
		Int("updated_in_place", summary.UpdatedInPlace).
		Int("skipped_unchanged", summary.SkippedUnchanged).
		Msg("persisted scored match batch")

	return summary, outcomes, nil
}

// InvalidateForJob flips every active match referencing jobID to stale,
// called when a job's content_hash changes (§4.10).
func (p *Persister) InvalidateForJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	return p.matches.InvalidateForJob(ctx, jobID, reason)
}

// InvalidateForResume flips every active match for resumeFingerprint to
// stale, called when a resume is re-normalized (§4.10).
func (p *Persister) InvalidateForResume(ctx context.Context, resumeFingerprint, reason string) error {
	return p.matches.InvalidateForResume(ctx, resumeFingerprint, reason)
}

func toJobMatch(resumeID uuid.UUID, resumeFingerprint string, r score.Result) *models.JobMatch {
	reqs := make([]models.JobMatchRequirement, 0, len(r.Preliminary.RequirementMatches))
	for _, m := range r.Preliminary.RequirementMatches {
		req := models.JobMatchRequirement{
			RequirementID:  m.Requirement.ID,
			Covered:        m.IsCovered,
			BestSimilarity: m.Similarity,
		}
		if m.Evidence != nil {
			id := m.Evidence.ID
			req.BestEvidenceID = &id
		}
		reqs = append(reqs, req)
	}

	return &models.JobMatch{
		ID:                common.NewID(),
		JobID:             r.Preliminary.Job.ID,
		ResumeID:          resumeID,
		Status:            models.MatchStatusActive,
		JobContentHash:    r.Preliminary.Job.ContentHash,
		ResumeFingerprint: resumeFingerprint,
		RequiredCoverage:  r.RequiredCoverage,
		PreferredCoverage: r.PreferredCoverage,
		JobSimilarity:     r.Preliminary.JobSimilarity,
		BaseScore:         r.BaseScore,
		PenaltyTotal:      r.PenaltyTotal,
		FitScore:          r.FitScore,
		WantScore:         r.WantScore,
		OverallScore:      r.OverallScore,
		PenaltyDetails:    r.Penalties,
		MatchType:         models.MatchTypeRequirementsOnly,
		CalculatedAt:      time.Now().UTC(),
		Requirements:      reqs,
	}
}
