// Package models contains the domain entities shared across every stage of
// the pipeline, from ingest through notification dispatch.
package models

import (
	"time"

	"github.com/google/uuid"
)

// FacetStatus tracks a Job's progress through the claim-based facet
// extraction pipeline (see internal/extract/facet).
type FacetStatus string

const (
	FacetStatusPending     FacetStatus = "pending"
	FacetStatusInProgress  FacetStatus = "in_progress"
	FacetStatusDone        FacetStatus = "done"
	FacetStatusQuarantined FacetStatus = "quarantined"
)

// FacetKey enumerates the seven predefined semantic dimensions a job
// posting can be scored on.
type FacetKey string

const (
	FacetRemoteFlexibility FacetKey = "remote_flexibility"
	FacetCompensation      FacetKey = "compensation"
	FacetLearningGrowth    FacetKey = "learning_growth"
	FacetCompanyCulture    FacetKey = "company_culture"
	FacetWorkLifeBalance   FacetKey = "work_life_balance"
	FacetTechStack         FacetKey = "tech_stack"
	FacetVisaSponsorship   FacetKey = "visa_sponsorship"
)

// FacetKeys is the stable, canonical ordering of facet keys used wherever
// facets must be iterated deterministically (scoring, persistence).
var FacetKeys = []FacetKey{
	FacetRemoteFlexibility,
	FacetCompensation,
	FacetLearningGrowth,
	FacetCompanyCulture,
	FacetWorkLifeBalance,
	FacetTechStack,
	FacetVisaSponsorship,
}

// Job is a single posting pulled from one or more scraper sources.
//
// content_hash is the authoritative trigger for downstream re-extraction
// and match invalidation: whenever it changes, is_extracted effectively
// becomes stale and any active JobMatch referencing the old hash must be
// invalidated by the caller.
type Job struct {
	ID                   uuid.UUID
	CanonicalFingerprint string
	Title                string
	Company              string
	LocationText         string
	IsRemote             bool
	Description          string
	Skills               []string
	ContentHash          string
	RawPayload           []byte

	FirstSeenAt time.Time
	LastSeenAt  time.Time

	IsExtracted bool
	IsEmbedded  bool
	// SummaryEmbedding is non-nil iff IsEmbedded is true.
	SummaryEmbedding []float32

	SalaryMin         *float64
	SalaryMax         *float64
	Currency          *string
	JobLevel          *string
	MinYearsExperience *int

	FacetStatus         FacetStatus
	FacetClaimedBy      *string
	FacetClaimedAt      *time.Time
	FacetExtractionHash *string
	FacetRetryCount     int
	FacetLastError      *string
}

// NeedsFacetExtraction reports whether the job's persisted facet rows are
// stale with respect to its current content hash.
func (j *Job) NeedsFacetExtraction() bool {
	if j.FacetExtractionHash == nil {
		return true
	}
	return *j.FacetExtractionHash != j.ContentHash
}

// JobPostSource records one scraper site's listing URL for a Job. Unique
// on (site, url); many sources may point at the same Job after fingerprint
// dedup collapses duplicate postings.
type JobPostSource struct {
	JobID uuid.UUID
	Site  string
	URL   string
}

// ReqType classifies a JobRequirementUnit.
type ReqType string

const (
	ReqTypeRequired       ReqType = "required"
	ReqTypePreferred      ReqType = "preferred"
	ReqTypeResponsibility ReqType = "responsibility"
	ReqTypeBenefit        ReqType = "benefit"
)

// JobRequirementUnit is one verbatim qualification/responsibility/benefit
// line extracted from a Job's description, paired 1:1 with an embedding.
type JobRequirementUnit struct {
	ID      uuid.UUID
	JobID   uuid.UUID
	ReqType ReqType
	Text    string

	Skills      []string
	Category    string
	Proficiency string

	Ordinal int

	MinYears     *int
	YearsContext *string

	Embedding []float32
}

// JobFacetEmbedding is one of a job's seven facet texts and its embedding.
// Unique on (job_id, facet_key).
type JobFacetEmbedding struct {
	JobID       uuid.UUID
	FacetKey    FacetKey
	FacetText   string
	Embedding   []float32
	ContentHash string
}
