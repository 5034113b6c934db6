// Package embed produces the three embedding tracks of §4.6: job summary,
// per-requirement, and per-facet, plus resume sections (driven separately
// from internal/resume since it needs the resume's own evidence units).
package embed

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/models"
)

const (
	maxSummaryRequirements = 20
	maxSummaryBenefits     = 10
	summaryFallbackChars   = 5000
)

// Embedder runs embedding over jobs and their requirement/facet rows.
type Embedder struct {
	jobs   interfaces.JobRepository
	llm    interfaces.LLMProvider
	logger arbor.ILogger
}

// New builds an Embedder.
func New(jobs interfaces.JobRepository, llm interfaces.LLMProvider, logger arbor.ILogger) *Embedder {
	return &Embedder{jobs: jobs, llm: llm, logger: logger}
}

// EmbedJobSummary builds the composite summary text (§4.6), embeds it, and
// flips is_embedded to true on success.
func (e *Embedder) EmbedJobSummary(ctx context.Context, job *models.Job, requirements []models.JobRequirementUnit) error {
	summary := BuildSummaryText(job, requirements)

	vectors, err := e.llm.Embed(ctx, []string{summary})
	if err != nil {
		return fmt.Errorf("embed job summary for job %s: %w", job.ID, err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed job summary for job %s: expected 1 vector, got %d", job.ID, len(vectors))
	}

	if err := e.jobs.MarkEmbedded(ctx, job.ID, Normalize(vectors[0])); err != nil {
		return fmt.Errorf("persist job summary embedding for job %s: %w", job.ID, err)
	}
	e.logger.Info().Str("job_id", job.ID.String()).Msg("embedded job summary")
	return nil
}

// EmbedRequirements embeds each requirement's text verbatim, one row per
// requirement.
func (e *Embedder) EmbedRequirements(ctx context.Context, requirements []models.JobRequirementUnit) ([]models.JobRequirementUnit, error) {
	if len(requirements) == 0 {
		return requirements, nil
	}
	texts := make([]string, len(requirements))
	for i, r := range requirements {
		texts[i] = r.Text
	}
	vectors, err := e.llm.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed requirements: %w", err)
	}
	for i := range requirements {
		requirements[i].Embedding = Normalize(vectors[i])
	}
	if err := e.jobs.UpdateRequirementEmbeddings(ctx, requirements); err != nil {
		return nil, fmt.Errorf("persist requirement embeddings: %w", err)
	}
	return requirements, nil
}

// EmbedFacets embeds each of a job's seven facet texts in a second pass
// after facet extraction (kept separate because facets batch better at
// their own, smaller size).
func (e *Embedder) EmbedFacets(ctx context.Context, facets []models.JobFacetEmbedding) ([]models.JobFacetEmbedding, error) {
	if len(facets) == 0 {
		return facets, nil
	}
	texts := make([]string, len(facets))
	for i, f := range facets {
		texts[i] = f.FacetText
	}
	vectors, err := e.llm.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed facets: %w", err)
	}
	for i := range facets {
		facets[i].Embedding = Normalize(vectors[i])
	}
	return facets, nil
}

// BuildSummaryText concatenates up to 20 requirement texts and 10 benefit
// texts with " | ", falling back to the first 5000 description characters
// if that would be empty.
func BuildSummaryText(job *models.Job, requirements []models.JobRequirementUnit) string {
	var parts []string
	reqCount, benefitCount := 0, 0
	for _, r := range requirements {
		switch r.ReqType {
		case models.ReqTypeBenefit:
			if benefitCount >= maxSummaryBenefits {
				continue
			}
			benefitCount++
		default:
			if reqCount >= maxSummaryRequirements {
				continue
			}
			reqCount++
		}
		parts = append(parts, r.Text)
	}

	if len(parts) == 0 {
		desc := job.Description
		if len(desc) > summaryFallbackChars {
			desc = desc[:summaryFallbackChars]
		}
		return desc
	}
	return strings.Join(parts, " | ")
}

// Normalize returns a unit-length copy of v (cosine-similarity retrieval
// assumes unit-length embeddings throughout, §4.6/§4.8).
func Normalize(v []float32) []float32 {
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
