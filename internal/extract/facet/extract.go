// Package facet implements the claim-based concurrent facet extractor of
// §4.5: claim a batch of jobs via FOR UPDATE SKIP LOCKED semantics, fan out
// across a bounded worker pool, and resolve each claim to done/pending.
package facet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/jobmatch-ai/pipeline/internal/embed"
	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/models"
	"github.com/jobmatch-ai/pipeline/internal/schemas"
)

// Config bounds the claim protocol (claim_timeout, max_retries) and the
// fan-out concurrency.
type Config struct {
	ClaimedBy   string
	BatchSize   int
	Concurrency int
	ClaimTimeout time.Duration
	MaxRetries   int
}

// Extractor runs the claimed-batch facet extraction cycle.
type Extractor struct {
	jobs     interfaces.JobRepository
	llm      interfaces.LLMProvider
	embedder *embed.Embedder
	cfg      Config
	logger   arbor.ILogger
}

// New builds an Extractor.
func New(jobs interfaces.JobRepository, llm interfaces.LLMProvider, embedder *embed.Embedder, cfg Config, logger arbor.ILogger) *Extractor {
	return &Extractor{jobs: jobs, llm: llm, embedder: embedder, cfg: cfg, logger: logger}
}

// RunBatch claims up to cfg.BatchSize jobs and processes them concurrently
// (bounded by cfg.Concurrency), returning once every claimed job has been
// resolved to done or back to pending (for retry). Jobs that exhausted their
// retries are quarantined by a later ClaimFacetBatch call, not here.
func (e *Extractor) RunBatch(ctx context.Context) (claimed int, err error) {
	jobs, err := e.jobs.ClaimFacetBatch(ctx, e.cfg.ClaimedBy, e.cfg.BatchSize, e.cfg.ClaimTimeout, e.cfg.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("claim facet batch: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			e.processOne(gctx, job)
			return nil
		})
	}
	_ = g.Wait() // per-job errors are resolved via ReleaseFacetClaim, never surfaced here

	return len(jobs), nil
}

// processOne extracts the seven facet texts for one claimed job and
// resolves its claim. An LLM or persistence failure resolves the claim
// back to pending (retry count was already incremented by the claim) with
// facet_last_error set; poison pills are quarantined on a later claim pass.
func (e *Extractor) processOne(ctx context.Context, job *models.Job) {
	envelope, err := schemas.GetSchema(schemas.Facet)
	if err != nil {
		e.release(ctx, job, fmt.Errorf("load facet schema: %w", err))
		return
	}

	raw, err := e.llm.ExtractStructured(ctx, job.Description, "facet", envelope)
	if err != nil {
		e.release(ctx, job, fmt.Errorf("llm facet extraction: %w", err))
		return
	}

	facetTexts, err := parseFacetResult(raw)
	if err != nil {
		e.release(ctx, job, fmt.Errorf("parse facet result: %w", err))
		return
	}

	facets := make([]models.JobFacetEmbedding, 0, len(models.FacetKeys))
	for _, key := range models.FacetKeys {
		text := facetTexts[key]
		facets = append(facets, models.JobFacetEmbedding{
			JobID:       job.ID,
			FacetKey:    key,
			FacetText:   text,
			ContentHash: job.ContentHash,
		})
	}

	facets, err = e.embedder.EmbedFacets(ctx, facets)
	if err != nil {
		e.release(ctx, job, fmt.Errorf("embed facets: %w", err))
		return
	}

	if err := e.jobs.UpsertFacets(ctx, job.ID, job.ContentHash, facets); err != nil {
		e.release(ctx, job, fmt.Errorf("persist facets: %w", err))
		return
	}

	if err := e.jobs.ReleaseFacetClaim(ctx, job.ID, nil); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to release facet claim after success")
		return
	}
	e.logger.Info().Str("job_id", job.ID.String()).Msg("facet extraction done")
}

func (e *Extractor) release(ctx context.Context, job *models.Job, cause error) {
	e.logger.Warn().Err(cause).Str("job_id", job.ID.String()).Str("claimed_by", e.cfg.ClaimedBy).
		Msg("facet extraction failed, releasing claim back to pending")
	if rerr := e.jobs.ReleaseFacetClaim(ctx, job.ID, cause); rerr != nil {
		e.logger.Error().Err(rerr).Str("job_id", job.ID.String()).Msg("failed to release facet claim after failure")
	}
}

type facetExtractionResult struct {
	RemoteFlexibility string `json:"remote_flexibility"`
	Compensation      string `json:"compensation"`
	LearningGrowth    string `json:"learning_growth"`
	CompanyCulture    string `json:"company_culture"`
	WorkLifeBalance   string `json:"work_life_balance"`
	TechStack         string `json:"tech_stack"`
	VisaSponsorship   string `json:"visa_sponsorship"`
}

func parseFacetResult(raw []byte) (map[models.FacetKey]string, error) {
	var parsed facetExtractionResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal facet extraction result: %w", err)
	}
	return map[models.FacetKey]string{
		models.FacetRemoteFlexibility: parsed.RemoteFlexibility,
		models.FacetCompensation:      parsed.Compensation,
		models.FacetLearningGrowth:    parsed.LearningGrowth,
		models.FacetCompanyCulture:    parsed.CompanyCulture,
		models.FacetWorkLifeBalance:   parsed.WorkLifeBalance,
		models.FacetTechStack:         parsed.TechStack,
		models.FacetVisaSponsorship:   parsed.VisaSponsorship,
	}, nil
}
