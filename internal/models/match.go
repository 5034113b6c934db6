package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchStatus distinguishes the one live JobMatch for a (job, resume) pair
// from superseded historical rows, which are kept rather than deleted.
type MatchStatus string

const (
	MatchStatusActive MatchStatus = "active"
	MatchStatusStale  MatchStatus = "stale"
)

// MatchTypeRequirementsOnly is the scorer's default match_type, matching the
// original matching_config.mode default ("requirements_only").
const MatchTypeRequirementsOnly = "requirements_only"

// PenaltyType enumerates the Fit-score penalty kinds applied by the scorer,
// each surfaced in PenaltyDetail.Type for explainability.
type PenaltyType string

const (
	PenaltyMissingRequired     PenaltyType = "missing_required"
	PenaltySeniorityMismatch   PenaltyType = "seniority_mismatch"
	PenaltyCompensationMismatch PenaltyType = "compensation_mismatch"
	PenaltyExperienceShortfall PenaltyType = "experience_shortfall"
	PenaltyRemoteMismatch      PenaltyType = "remote_mismatch"
)

// PenaltyDetail is one applied penalty, persisted inside JobMatch for
// explainability, mirroring the original explainability module's per-penalty
// breakdown.
type PenaltyDetail struct {
	Type    PenaltyType `json:"type"`
	Amount  float64     `json:"amount"`
	Reason  string      `json:"reason"`
	Details string      `json:"details,omitempty"`
}

// JobMatch is the persisted outcome of scoring one resume against one job.
// Each (job_id, resume_fingerprint) pair has at most one MatchStatusActive
// row; prior active rows are demoted to MatchStatusStale when superseded,
// never deleted.
type JobMatch struct {
	ID       uuid.UUID
	JobID    uuid.UUID
	ResumeID uuid.UUID
	Status   MatchStatus

	JobContentHash    string
	ResumeFingerprint string

	RequiredCoverage  float64
	PreferredCoverage float64
	JobSimilarity     float64

	// BaseScore is the blended coverage/similarity score before penalties
	// are subtracted; PenaltyTotal is the sum of PenaltyDetails' amounts.
	// BaseScore = clamp(0, 100, 100*blended) and
	// FitScore = clamp(0, 100, 100*blended - PenaltyTotal), so when
	// 100*blended exceeds 100 the penalties come off the unclamped value.
	BaseScore    float64
	PenaltyTotal float64
	FitScore     float64
	WantScore    *float64
	OverallScore float64

	PenaltyDetails []PenaltyDetail

	// MatchType labels which scoring mode produced this row (e.g.
	// MatchTypeRequirementsOnly), mirroring the original scorer's
	// caller-supplied match_type.
	MatchType string

	// CalculatedAt is when this row's scores were computed, distinct from
	// any storage-layer updated_at, so a content-hash invalidation can
	// compare against the job's own last_seen_at (§4.10).
	CalculatedAt time.Time

	// InvalidatedReason records why an active row was superseded to stale,
	// set by InvalidateForJob/InvalidateForResume; nil while active.
	InvalidatedReason *string

	// Notified is preserved across in-place score updates and reset to
	// false whenever a new active row is inserted (§4.10).
	Notified bool

	Requirements []JobMatchRequirement
}

// MatchTransition reports what UpsertActive actually did, so callers (e.g.
// internal/orchestrator, via internal/persistence) can decide whether a
// JobMatch needs a notification.
type MatchTransition string

const (
	MatchInserted         MatchTransition = "inserted"
	MatchSupersededStale  MatchTransition = "superseded_stale"
	MatchUpdatedInPlace   MatchTransition = "updated_in_place"
	MatchSkippedUnchanged MatchTransition = "skipped_unchanged"
)

// JobMatchRequirement records, for one JobRequirementUnit, whether and how
// well it was covered by resume evidence.
type JobMatchRequirement struct {
	MatchID         uuid.UUID
	RequirementID   uuid.UUID
	Covered         bool
	BestSimilarity  float64
	BestEvidenceID  *uuid.UUID
}
