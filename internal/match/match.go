// Package match implements stage 1 of the matcher, §4.8: top-K vector
// retrieval of jobs against a resume, then per-requirement coverage via
// best-evidence cosine similarity.
package match

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/models"
)

// Config holds the matcher's tunables (matching.matcher.*).
type Config struct {
	SimilarityThreshold float64
	BatchSize           int
	RemoteOnly          bool
}

// RequirementMatchResult is one requirement's coverage outcome.
type RequirementMatchResult struct {
	Requirement models.JobRequirementUnit
	Evidence    *models.ResumeEvidenceUnit
	Similarity  float64
	IsCovered   bool
}

// Preliminary is the stage-1 output for one retrieved job, before scoring.
type Preliminary struct {
	Job                 *models.Job
	JobSimilarity       float64
	RequirementMatches  []RequirementMatchResult
	// MissingRequirements holds only uncovered requirements of type
	// "required" (§4.9's missing_required_count), not responsibilities or
	// benefits, which resume evidence rarely "covers" and were never meant
	// to incur the missing-required Fit penalty.
	MissingRequirements []models.JobRequirementUnit
	ResumeFingerprint   string
}

// Matcher runs stage 1.
type Matcher struct {
	vectors interfaces.VectorStore
	jobs    interfaces.JobRepository
	logger  arbor.ILogger
}

// New builds a Matcher.
func New(vectors interfaces.VectorStore, jobs interfaces.JobRepository, logger arbor.ILogger) *Matcher {
	return &Matcher{vectors: vectors, jobs: jobs, logger: logger}
}

// MatchResume uses the caller-supplied queryEmbedding (typically the resume
// summary embedding) as the composite resume vector, retrieves the top-K jobs by
// cosine similarity on summary_embedding, and computes per-requirement
// coverage for each against the resume's evidence units.
func (m *Matcher) MatchResume(ctx context.Context, resume *models.StructuredResume, queryEmbedding []float32, cfg Config) ([]Preliminary, error) {
	k := cfg.BatchSize
	if k <= 0 {
		k = 50
	}

	jobIDs, err := m.vectors.TopKJobsBySummary(ctx, queryEmbedding, k, cfg.RemoteOnly)
	if err != nil {
		return nil, fmt.Errorf("top-k job retrieval: %w", err)
	}

	results := make([]Preliminary, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		prelim, err := m.matchOneJob(ctx, jobID, resume, queryEmbedding, cfg)
		if err != nil {
			m.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to compute requirement matches for job")
			continue
		}
		results = append(results, prelim)
	}
	return results, nil
}

func (m *Matcher) matchOneJob(ctx context.Context, jobID uuid.UUID, resume *models.StructuredResume, queryEmbedding []float32, cfg Config) (Preliminary, error) {
	job, err := m.jobs.GetByID(ctx, jobID)
	if err != nil {
		return Preliminary{}, fmt.Errorf("load job: %w", err)
	}

	jobSimilarity := CosineSimilarity(queryEmbedding, job.SummaryEmbedding)

	prelim := Preliminary{
		Job:               job,
		JobSimilarity:     jobSimilarity,
		ResumeFingerprint: resume.ResumeFingerprint,
	}

	requirements, err := m.jobs.ListRequirements(ctx, job.ID)
	if err != nil {
		return Preliminary{}, fmt.Errorf("load requirements for job %s: %w", job.ID, err)
	}

	for _, req := range requirements {
		bestSim := -1.0
		var bestEvidence *models.ResumeEvidenceUnit
		for i := range resume.EvidenceUnits {
			sim := CosineSimilarity(req.Embedding, resume.EvidenceUnits[i].Embedding)
			if sim > bestSim {
				bestSim = sim
				bestEvidence = &resume.EvidenceUnits[i]
			}
		}

		covered := bestSim >= cfg.SimilarityThreshold
		result := RequirementMatchResult{
			Requirement: req,
			Evidence:    bestEvidence,
			Similarity:  bestSim,
			IsCovered:   covered,
		}
		prelim.RequirementMatches = append(prelim.RequirementMatches, result)
		if !covered && req.ReqType == models.ReqTypeRequired {
			prelim.MissingRequirements = append(prelim.MissingRequirements, req)
		}
	}

	return prelim, nil
}

// QueryEmbedding returns the composite resume embedding used for stage-1
// top-K retrieval: the profiler's own summary evidence unit, which is
// already embedded and persisted (§4.7/§4.8 "embed a composite resume
// text"), so no extra LLM call is needed at match time.
func QueryEmbedding(resume *models.StructuredResume) []float32 {
	for _, u := range resume.EvidenceUnits {
		if u.SourceSection == models.SectionSummary {
			return u.Embedding
		}
	}
	if len(resume.EvidenceUnits) > 0 {
		return resume.EvidenceUnits[0].Embedding
	}
	return nil
}

// CosineSimilarity returns the cosine similarity of a and b, 0 if either is
// empty or zero-length.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
