// Package orchestrator sequences the full pipeline cycle of §4.1: gather,
// extract requirements, extract facets, embed, profile the resume, match,
// score, persist, and notify. It owns stage sequencing, mode gating, and
// cooperative cancellation; per-item transaction boundaries live in the
// repository implementations each stage calls into.
package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/config"
	"github.com/jobmatch-ai/pipeline/internal/extract/facet"
	"github.com/jobmatch-ai/pipeline/internal/extract/requirement"
	"github.com/jobmatch-ai/pipeline/internal/embed"
	"github.com/jobmatch-ai/pipeline/internal/ingest"
	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/match"
	"github.com/jobmatch-ai/pipeline/internal/models"
	"github.com/jobmatch-ai/pipeline/internal/notify"
	"github.com/jobmatch-ai/pipeline/internal/notify/message"
	"github.com/jobmatch-ai/pipeline/internal/persistence"
	"github.com/jobmatch-ai/pipeline/internal/resume"
	"github.com/jobmatch-ai/pipeline/internal/score"
)

// Mode gates which stages a cycle runs, matching the CLI contract
// `run --mode=all|etl|matching` (§6).
type Mode string

const (
	ModeAll      Mode = "all"
	ModeETL      Mode = "etl"
	ModeMatching Mode = "matching"
)

// requirementBatchSize and embedBatchSize bound how many jobs one cycle
// pulls per stage; unlike facet extraction these stages have no claim
// protocol of their own, so the orchestrator paginates with a fixed size.
const (
	requirementBatchSize = 100
	embedBatchSize       = 100
)

// Orchestrator wires every stage package behind one sequencing entry point.
type Orchestrator struct {
	cfg *config.Config

	scraper interfaces.ScraperClient
	jobs    interfaces.JobRepository
	llm     interfaces.LLMProvider

	ingester       *ingest.Ingester
	reqExtractor   *requirement.Extractor
	facetExtractor *facet.Extractor
	embedder       *embed.Embedder
	profiler       *resume.Profiler
	matcher        *match.Matcher
	persister      *persistence.Persister
	dispatcher     *notify.Dispatcher
	msgBuilder     *message.Builder

	logger arbor.ILogger
}

// New builds an Orchestrator from its fully constructed stage components.
func New(
	cfg *config.Config,
	scraper interfaces.ScraperClient,
	jobs interfaces.JobRepository,
	llm interfaces.LLMProvider,
	ingester *ingest.Ingester,
	reqExtractor *requirement.Extractor,
	facetExtractor *facet.Extractor,
	embedder *embed.Embedder,
	profiler *resume.Profiler,
	matcher *match.Matcher,
	persister *persistence.Persister,
	dispatcher *notify.Dispatcher,
	msgBuilder *message.Builder,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		cfg:            cfg,
		scraper:        scraper,
		jobs:           jobs,
		llm:            llm,
		ingester:       ingester,
		reqExtractor:   reqExtractor,
		facetExtractor: facetExtractor,
		embedder:       embedder,
		profiler:       profiler,
		matcher:        matcher,
		persister:      persister,
		dispatcher:     dispatcher,
		msgBuilder:     msgBuilder,
		logger:         logger,
	}
}

// RunCycle runs one full pass of the pipeline gated by mode. Every stage
// isolates per-item failures: one malformed job or resume never aborts the
// rest of the batch. Cooperative cancellation is checked between items and
// before every blocking call, so ctx cancellation (SIGINT/SIGTERM or a
// caller-supplied token) stops the cycle promptly without losing partial
// progress already committed by earlier items.
func (o *Orchestrator) RunCycle(ctx context.Context, mode Mode) error {
	started := time.Now()
	o.logger.Info().Str("mode", string(mode)).Msg("starting pipeline cycle")

	if mode == ModeAll || mode == ModeETL {
		if err := o.gatherStage(ctx); err != nil {
			o.logger.Error().Err(err).Msg("gather stage failed, continuing with existing backlog")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.extractRequirementsStage(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.extractFacetsStage(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.embedStage(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if mode == ModeAll || mode == ModeMatching {
		if !o.cfg.Matching.Enabled {
			o.logger.Info().Msg("matching disabled by config, skipping matching stage")
		} else if err := o.matchingStage(ctx); err != nil {
			return fmt.Errorf("matching stage: %w", err)
		}
	}

	o.logger.Info().Str("mode", string(mode)).Dur("elapsed", time.Since(started)).Msg("pipeline cycle complete")
	return nil
}

// gatherStage submits and polls every configured scraper, ingesting every
// posting it returns (§4.2/§4.3). A scraper or site failing to return a
// result is logged and skipped; it never blocks the other configured
// scrapers.
func (o *Orchestrator) gatherStage(ctx context.Context) error {
	pollInterval := time.Duration(o.cfg.JobSpy.PollIntervalSeconds) * time.Second
	jobTimeout := time.Duration(o.cfg.JobSpy.JobTimeoutSeconds) * time.Second

	for _, sc := range o.cfg.Scrapers {
		for _, site := range sc.SiteType {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			taskID, err := o.scraper.Submit(ctx, site, sc.SearchTerm)
			if err != nil {
				o.logger.Warn().Err(err).Str("site", site).Str("search_term", sc.SearchTerm).
					Msg("failed to submit scrape, skipping site")
				continue
			}

			payload, err := o.scraper.WaitForResult(ctx, taskID, pollInterval, jobTimeout, nil)
			if err != nil {
				o.logger.Warn().Err(err).Str("site", site).Str("task_id", taskID).
					Msg("scrape poll failed, skipping site")
				continue
			}
			if len(payload) == 0 {
				continue
			}

			var raws []ingest.RawJob
			if err := json.Unmarshal(payload, &raws); err != nil {
				o.logger.Error().Err(err).Str("site", site).Msg("unparseable scrape payload, skipping site")
				continue
			}

			for _, raw := range raws {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if _, err := o.ingester.Ingest(ctx, raw); err != nil {
					o.logger.Error().Err(err).Str("title", raw.Title).Str("company", raw.Company).
						Msg("failed to ingest job posting, skipping")
				}
			}
		}
	}
	return nil
}

// extractRequirementsStage runs §4.4 over every job awaiting extraction.
func (o *Orchestrator) extractRequirementsStage(ctx context.Context) {
	jobs, err := o.jobs.ListUnextracted(ctx, requirementBatchSize)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to list unextracted jobs")
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := o.reqExtractor.ExtractOne(ctx, job); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID.String()).
				Msg("requirement extraction failed, leaving job for retry")
		}
	}
}

// extractFacetsStage drains the claim-based facet queue of §4.5, calling
// RunBatch repeatedly until a pass claims nothing.
func (o *Orchestrator) extractFacetsStage(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := o.facetExtractor.RunBatch(ctx)
		if err != nil {
			o.logger.Error().Err(err).Msg("facet extraction batch failed")
			return
		}
		if claimed == 0 {
			return
		}
	}
}

// embedStage runs §4.6 over every job awaiting a summary embedding,
// embedding its requirements first so the summary text generation has them.
func (o *Orchestrator) embedStage(ctx context.Context) {
	jobs, err := o.jobs.ListUnembedded(ctx, embedBatchSize)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to list unembedded jobs")
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}

		reqs, err := o.jobs.ListRequirements(ctx, job.ID)
		if err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to load requirements for embedding")
			continue
		}

		reqs, err = o.embedder.EmbedRequirements(ctx, reqs)
		if err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to embed requirements")
			continue
		}

		if err := o.embedder.EmbedJobSummary(ctx, job, reqs); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to embed job summary")
		}
	}
}

// matchingStage runs §4.7 through §4.11 for the single configured
// candidate resume: profile, stage-1 retrieval, scoring, persistence, and
// notification dispatch.
func (o *Orchestrator) matchingStage(ctx context.Context) error {
	resumeFile := o.cfg.ETL.Resume.ResumeFile
	if resumeFile == "" {
		return fmt.Errorf("matching.enabled is true but etl.resume.resume_file is not configured")
	}

	rawText, err := os.ReadFile(resumeFile)
	if err != nil {
		return fmt.Errorf("read resume file %s: %w", resumeFile, err)
	}

	structured, err := o.profiler.Profile(ctx, string(rawText))
	if err != nil {
		return fmt.Errorf("profile resume: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	queryEmbedding := match.QueryEmbedding(structured)
	if len(queryEmbedding) == 0 {
		return fmt.Errorf("resume %s has no embedded sections to query against", structured.ResumeFingerprint)
	}

	matcherCfg := match.Config{
		SimilarityThreshold: o.cfg.Matching.Matcher.SimilarityThreshold,
		BatchSize:           o.cfg.Matching.Matcher.BatchSize,
		RemoteOnly:          o.cfg.Matching.Scorer.WantsRemote,
	}
	prelims, err := o.matcher.MatchResume(ctx, structured, queryEmbedding, matcherCfg)
	if err != nil {
		return fmt.Errorf("stage-1 retrieval: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	facetsByJob := make(map[uuid.UUID][]models.JobFacetEmbedding, len(prelims))
	for _, p := range prelims {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		facets, err := o.jobs.ListFacets(ctx, p.Job.ID)
		if err != nil {
			o.logger.Warn().Err(err).Str("job_id", p.Job.ID.String()).Msg("failed to load facets, scoring without want inputs")
			continue
		}
		facetsByJob[p.Job.ID] = facets
	}

	wantEmbeddings, err := o.loadWantEmbeddings(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to embed user wants, scoring fit only")
	}

	results := score.Score(prelims, o.scoreConfig(), o.scorePolicy(), wantEmbeddings, facetsByJob)

	summary, outcomes, err := o.persister.PersistBatch(ctx, structured.ID, structured.ResumeFingerprint, results, o.cfg.Matching.RecalculateExisting)
	if err != nil {
		return fmt.Errorf("persist scored matches: %w", err)
	}

	o.logger.Info().
		Int("candidates", len(results)).
		Int("inserted", summary.Inserted).
		Int("superseded_stale", summary.SupersededStale).
		Int("updated_in_place", summary.UpdatedInPlace).
		Int("skipped_unchanged", summary.SkippedUnchanged).
		Msg("matching stage complete")

	if o.cfg.Notifications.Enabled {
		o.notifyOutcomes(ctx, outcomes)
	}

	return nil
}

// loadWantEmbeddings reads matching.user_wants_file (one free-text want per
// line) and embeds each line independently, per §4.9's want-score inputs.
// An unconfigured or empty file yields a nil slice, which score.Score
// treats as "no want inputs" (want_score left undefined).
func (o *Orchestrator) loadWantEmbeddings(ctx context.Context) ([][]float32, error) {
	path := o.cfg.Matching.UserWantsFile
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read user wants file %s: %w", path, err)
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan user wants file %s: %w", path, err)
	}
	if len(lines) == 0 {
		return nil, nil
	}

	vectors, err := o.llm.Embed(ctx, lines)
	if err != nil {
		return nil, fmt.Errorf("embed user wants: %w", err)
	}
	for i := range vectors {
		vectors[i] = embed.Normalize(vectors[i])
	}
	return vectors, nil
}

func (o *Orchestrator) scoreConfig() score.Config {
	sc := o.cfg.Matching.Scorer

	var facetWeights map[models.FacetKey]float64
	if len(sc.FacetWeights) > 0 {
		facetWeights = make(map[models.FacetKey]float64, len(sc.FacetWeights))
		for k, v := range sc.FacetWeights {
			facetWeights[models.FacetKey(k)] = v
		}
	}

	return score.Config{
		WeightRequired:                        sc.WeightRequired,
		WeightPreferred:                        sc.WeightPreferred,
		WeightSimilarity:                       sc.WeightSimilarity,
		FitWeight:                              sc.FitWeight,
		WantWeight:                             sc.WantWeight,
		FacetWeights:                           facetWeights,
		PenaltyMissingRequired:                 sc.PenaltyMissingRequired,
		PenaltySeniorityMismatch:               sc.PenaltySeniorityMismatch,
		PenaltyCompensationMismatch:             sc.PenaltyCompensationMismatch,
		PenaltyExperienceShortfallPerYear:       sc.PenaltyExperienceShortfallPerYear,
		PenaltyExperienceShortfallMaxMultiple:   sc.PenaltyExperienceShortfallMaxMultiple,
		WantsRemote:                             sc.WantsRemote,
		MinSalary:                               sc.MinSalary,
		TargetSeniority:                         sc.TargetSeniority,
	}
}

func (o *Orchestrator) scorePolicy() score.Policy {
	rp := o.cfg.Matching.ResultPolicy
	return score.Policy{
		MinFit:                rp.MinFit,
		TopK:                  rp.TopK,
		MinJDRequiredCoverage: rp.MinJDRequiredCoverage,
	}
}

// notifyOutcomes dispatches one notification per persisted outcome that
// warrants one, plus an optional batch_complete summary (§4.11). Dispatch
// failures are logged, never surfaced: notification failures must not
// affect match persistence, which already committed.
func (o *Orchestrator) notifyOutcomes(ctx context.Context, outcomes []persistence.Outcome) {
	userID := o.cfg.Notifications.UserID
	var best *persistence.Outcome

	for i := range outcomes {
		if ctx.Err() != nil {
			return
		}
		oc := outcomes[i]

		if best == nil || oc.Match.OverallScore > best.Match.OverallScore {
			best = &outcomes[i]
		}

		event, ok := classifyEvent(oc.Transition, o.cfg.Notifications)
		if !ok {
			continue
		}
		if oc.Match.OverallScore < o.cfg.Notifications.MinScoreThreshold {
			continue
		}

		o.sendNotification(ctx, userID, event, oc.Job, oc.Match)
	}

	if o.cfg.Notifications.NotifyOnBatchComplete && best != nil {
		o.sendNotification(ctx, userID, models.EventBatchComplete, best.Job, best.Match)
	}
}

func (o *Orchestrator) sendNotification(ctx context.Context, userID string, event models.NotificationEventType, job *models.Job, jobMatch *models.JobMatch) {
	msg, err := o.msgBuilder.Build(userID, event, job, jobMatch, nil)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to render notification")
		return
	}
	if err := o.dispatcher.Dispatch(ctx, msg, notify.MatchContentHash(jobMatch)); err != nil {
		o.logger.Warn().Err(err).Str("match_id", jobMatch.ID.String()).Str("event_type", string(event)).
			Msg("notification dispatch had failures")
	}
}

// classifyEvent maps a persistence transition to the notification event it
// warrants, honoring the configured on/off switches. A row whose score did
// not change (MatchSkippedUnchanged) never notifies. Since UpsertActive
// reports only the transition and not the superseded match's prior score,
// an in-place update is treated as a status change rather than a scored
// score_improved delta.
func classifyEvent(t models.MatchTransition, cfg config.NotificationsConfig) (models.NotificationEventType, bool) {
	switch t {
	case models.MatchInserted, models.MatchSupersededStale:
		if !cfg.NotifyOnNewMatch {
			return "", false
		}
		return models.EventNewMatch, true
	case models.MatchUpdatedInPlace:
		return models.EventStatusChanged, true
	default:
		return "", false
	}
}
