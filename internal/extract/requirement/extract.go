// Package requirement implements the requirement extractor of §4.4: LLM
// call, schema validation, years-regex derivation, and same-transaction
// persist-and-mark-extracted.
package requirement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/common"
	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/llmclient"
	"github.com/jobmatch-ai/pipeline/internal/models"
	"github.com/jobmatch-ai/pipeline/internal/schemas"
	"github.com/jobmatch-ai/pipeline/internal/textutil"
)

// extractedRequirement mirrors internal/schemas/requirement.json.
type extractedRequirement struct {
	ReqType     string   `json:"req_type"`
	Text        string   `json:"text"`
	Skills      []string `json:"skills"`
	Category    string   `json:"category"`
	Proficiency string   `json:"proficiency"`
}

type extractionResult struct {
	Requirements        []extractedRequirement `json:"requirements"`
	JobLevel            *string                 `json:"job_level"`
	MinYearsExperience  *int                    `json:"min_years_experience"`
	SalaryMin           *float64                `json:"salary_min"`
	SalaryMax           *float64                `json:"salary_max"`
	Currency            *string                 `json:"currency"`
	IsRemote            bool                    `json:"is_remote"`
}

// Extractor runs the per-job requirement extraction cycle.
type Extractor struct {
	jobs   interfaces.JobRepository
	llm    interfaces.LLMProvider
	logger arbor.ILogger
}

// New builds an Extractor.
func New(jobs interfaces.JobRepository, llm interfaces.LLMProvider, logger arbor.ILogger) *Extractor {
	return &Extractor{jobs: jobs, llm: llm, logger: logger}
}

// ExtractOne runs step 1-4 of §4.4 for a single job already selected by the
// caller as `is_extracted = false ∧ description ≠ ⊥`.
func (e *Extractor) ExtractOne(ctx context.Context, job *models.Job) error {
	if job.Description == "" {
		return nil
	}

	envelope, err := schemas.GetSchema(schemas.Requirement)
	if err != nil {
		return fmt.Errorf("load requirement schema: %w", err)
	}

	raw, err := e.llm.ExtractStructured(ctx, job.Description, "requirement", envelope)
	if err != nil && !errors.Is(err, llmclient.ErrSchemaValidation) {
		return fmt.Errorf("llm extraction for job %s: %w", job.ID, err)
	}
	validationFailed := errors.Is(err, llmclient.ErrSchemaValidation)

	var parsed extractionResult
	if uerr := json.Unmarshal(raw, &parsed); uerr != nil {
		e.logger.Error().Err(uerr).Str("job_id", job.ID.String()).Str("raw_payload", string(raw)).
			Msg("requirement extraction returned unparseable payload, leaving job pre-extraction")
		return nil
	}
	if validationFailed {
		e.logger.Warn().Str("job_id", job.ID.String()).Str("raw_payload", string(raw)).
			Msg("requirement extraction failed schema validation, using best-effort payload")
	}

	units := make([]models.JobRequirementUnit, 0, len(parsed.Requirements))
	for i, r := range parsed.Requirements {
		unit := models.JobRequirementUnit{
			ID:          common.NewID(),
			JobID:       job.ID,
			ReqType:     models.ReqType(r.ReqType),
			Text:        r.Text,
			Skills:      r.Skills,
			Category:    r.Category,
			Proficiency: r.Proficiency,
			Ordinal:     i,
		}
		if years, ok := textutil.ExtractMinYears(r.Text); ok {
			unit.MinYears = &years
			unit.YearsContext = &r.Text
		}
		units = append(units, unit)
	}

	job.JobLevel = parsed.JobLevel
	job.MinYearsExperience = parsed.MinYearsExperience
	job.SalaryMin = parsed.SalaryMin
	job.SalaryMax = parsed.SalaryMax
	job.Currency = parsed.Currency
	job.IsRemote = parsed.IsRemote

	if validationFailed {
		return nil
	}

	if err := e.jobs.MarkExtracted(ctx, job, units); err != nil {
		return fmt.Errorf("persist requirements for job %s: %w", job.ID, err)
	}

	e.logger.Info().Str("job_id", job.ID.String()).Int("requirement_count", len(units)).Msg("extracted job requirements")
	return nil
}
