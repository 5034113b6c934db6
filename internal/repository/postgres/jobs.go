package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jobmatch-ai/pipeline/internal/models"
)

// JobRepository is the pgx-backed interfaces.JobRepository.
type JobRepository struct {
	db *DB
}

// UpsertByFingerprint inserts a new job or refreshes last_seen_at and
// content on an existing one, keyed by canonical_fingerprint.
func (r *JobRepository) UpsertByFingerprint(ctx context.Context, job *models.Job) (bool, error) {
	now := time.Now()
	var existingID uuid.UUID
	var existingContentHash string
	err := r.db.pool.QueryRow(ctx,
		`SELECT id, content_hash FROM jobs WHERE canonical_fingerprint = $1`,
		job.CanonicalFingerprint,
	).Scan(&existingID, &existingContentHash)

	if errors.Is(err, pgx.ErrNoRows) {
		if job.ID == uuid.Nil {
			job.ID = uuid.New()
		}
		job.FirstSeenAt = now
		job.LastSeenAt = now
		_, err = r.db.pool.Exec(ctx,
			`INSERT INTO jobs (id, canonical_fingerprint, title, company, location_text, is_remote,
			                   description, skills, content_hash, raw_payload, first_seen_at, last_seen_at,
			                   facet_status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			job.ID, job.CanonicalFingerprint, job.Title, job.Company, job.LocationText, job.IsRemote,
			job.Description, job.Skills, job.ContentHash, job.RawPayload, job.FirstSeenAt, job.LastSeenAt,
			models.FacetStatusPending,
		)
		if err != nil {
			return false, fmt.Errorf("insert job: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup job by fingerprint: %w", err)
	}

	job.ID = existingID
	job.LastSeenAt = now
	contentChanged := existingContentHash != job.ContentHash

	_, err = r.db.pool.Exec(ctx,
		`UPDATE jobs SET title = $1, company = $2, location_text = $3, is_remote = $4, description = $5,
		                  skills = $6, content_hash = $7, raw_payload = $8, last_seen_at = $9,
		                  is_extracted = CASE WHEN $7 <> content_hash THEN false ELSE is_extracted END,
		                  is_embedded  = CASE WHEN $7 <> content_hash THEN false ELSE is_embedded END
		 WHERE id = $10`,
		job.Title, job.Company, job.LocationText, job.IsRemote, job.Description,
		job.Skills, job.ContentHash, job.RawPayload, job.LastSeenAt, job.ID,
	)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}

	if contentChanged {
		_, err = r.db.pool.Exec(ctx,
			`UPDATE jobs SET facet_status = $1, facet_retry_count = 0, facet_last_error = NULL
			 WHERE id = $2`,
			models.FacetStatusPending, job.ID,
		)
		if err != nil {
			return false, fmt.Errorf("reset facet status after content change: %w", err)
		}
	}

	return false, nil
}

// UpsertSource records one scraper site's listing URL for jobID.
func (r *JobRepository) UpsertSource(ctx context.Context, src models.JobPostSource) error {
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO job_post_sources (job_id, site, url) VALUES ($1, $2, $3)
		 ON CONFLICT (site, url) DO UPDATE SET job_id = $1`,
		src.JobID, src.Site, src.URL,
	)
	if err != nil {
		return fmt.Errorf("upsert job source: %w", err)
	}
	return nil
}

// GetByID loads a single job by id.
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(r.db.pool.QueryRow(ctx, jobSelectColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// ListUnextracted returns up to limit jobs whose requirements have not yet
// been extracted.
func (r *JobRepository) ListUnextracted(ctx context.Context, limit int) ([]*models.Job, error) {
	rows, err := r.db.pool.Query(ctx,
		jobSelectColumns+` FROM jobs WHERE is_extracted = false ORDER BY first_seen_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unextracted jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListUnembedded returns up to limit extracted jobs that still need their
// summary/requirement embeddings computed.
func (r *JobRepository) ListUnembedded(ctx context.Context, limit int) ([]*models.Job, error) {
	rows, err := r.db.pool.Query(ctx,
		jobSelectColumns+` FROM jobs WHERE is_extracted = true AND is_embedded = false
		 ORDER BY first_seen_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unembedded jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// MarkExtracted persists the requirement extraction result for job: the
// structured fields requirement.Extractor derived plus the replaced set of
// JobRequirementUnit rows, atomically.
func (r *JobRepository) MarkExtracted(ctx context.Context, job *models.Job, reqs []models.JobRequirementUnit) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mark-extracted tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`UPDATE jobs SET is_extracted = true, salary_min = $1, salary_max = $2, currency = $3,
		                  job_level = $4, min_years_experience = $5
		 WHERE id = $6`,
		job.SalaryMin, job.SalaryMax, job.Currency, job.JobLevel, job.MinYearsExperience, job.ID,
	)
	if err != nil {
		return fmt.Errorf("mark job extracted: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM job_requirement_units WHERE job_id = $1`, job.ID); err != nil {
		return fmt.Errorf("clear stale requirement units: %w", err)
	}

	for _, req := range reqs {
		if req.ID == uuid.Nil {
			req.ID = uuid.New()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO job_requirement_units (id, job_id, req_type, text, skills, category,
			                                     proficiency, ordinal, min_years, years_context)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			req.ID, job.ID, req.ReqType, req.Text, req.Skills, req.Category,
			req.Proficiency, req.Ordinal, req.MinYears, req.YearsContext,
		)
		if err != nil {
			return fmt.Errorf("insert requirement unit: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mark-extracted tx: %w", err)
	}
	return nil
}

// MarkEmbedded persists the job summary embedding and flips is_embedded.
func (r *JobRepository) MarkEmbedded(ctx context.Context, jobID uuid.UUID, summaryEmbedding []float32) error {
	_, err := r.db.pool.Exec(ctx,
		`UPDATE jobs SET is_embedded = true, summary_embedding = $1 WHERE id = $2`,
		vectorLiteral(summaryEmbedding), jobID,
	)
	if err != nil {
		return fmt.Errorf("mark job embedded: %w", err)
	}
	return nil
}

// UpdateRequirementEmbeddings writes back the embeddings internal/embed
// computed for an already-persisted set of requirement units.
func (r *JobRepository) UpdateRequirementEmbeddings(ctx context.Context, requirements []models.JobRequirementUnit) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin requirement embedding tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, req := range requirements {
		_, err := tx.Exec(ctx,
			`UPDATE job_requirement_units SET embedding = $1 WHERE id = $2`,
			vectorLiteral(req.Embedding), req.ID,
		)
		if err != nil {
			return fmt.Errorf("update requirement embedding %s: %w", req.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit requirement embedding tx: %w", err)
	}
	return nil
}

// ListRequirements returns every requirement unit for jobID, ordinal order.
func (r *JobRepository) ListRequirements(ctx context.Context, jobID uuid.UUID) ([]models.JobRequirementUnit, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT id, job_id, req_type, text, skills, category, proficiency, ordinal, min_years,
		        years_context, embedding
		 FROM job_requirement_units WHERE job_id = $1 ORDER BY ordinal ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	defer rows.Close()

	var out []models.JobRequirementUnit
	for rows.Next() {
		var req models.JobRequirementUnit
		var embeddingLiteral *string
		if err := rows.Scan(&req.ID, &req.JobID, &req.ReqType, &req.Text, &req.Skills, &req.Category,
			&req.Proficiency, &req.Ordinal, &req.MinYears, &req.YearsContext, &embeddingLiteral); err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		req.Embedding = parseVectorLiteral(embeddingLiteral)
		out = append(out, req)
	}
	return out, nil
}

// ListFacets returns every persisted facet embedding for jobID.
func (r *JobRepository) ListFacets(ctx context.Context, jobID uuid.UUID) ([]models.JobFacetEmbedding, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT job_id, facet_key, facet_text, embedding, content_hash
		 FROM job_facet_embeddings WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list facets: %w", err)
	}
	defer rows.Close()

	var out []models.JobFacetEmbedding
	for rows.Next() {
		var f models.JobFacetEmbedding
		var embeddingLiteral *string
		if err := rows.Scan(&f.JobID, &f.FacetKey, &f.FacetText, &embeddingLiteral, &f.ContentHash); err != nil {
			return nil, fmt.Errorf("scan facet: %w", err)
		}
		f.Embedding = parseVectorLiteral(embeddingLiteral)
		out = append(out, f)
	}
	return out, nil
}

// ClaimFacetBatch implements §4.5's claim protocol: reset stale in_progress
// claims, quarantine jobs that exhausted maxRetries, then atomically claim
// up to n pending jobs via SELECT ... FOR UPDATE SKIP LOCKED.
func (r *JobRepository) ClaimFacetBatch(ctx context.Context, claimedBy string, n int, staleAfter time.Duration, maxRetries int) ([]*models.Job, error) {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	staleCutoff := time.Now().Add(-staleAfter)
	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET facet_status = $1, facet_claimed_by = NULL, facet_claimed_at = NULL
		 WHERE facet_status = $2 AND facet_claimed_at < $3`,
		models.FacetStatusPending, models.FacetStatusInProgress, staleCutoff,
	); err != nil {
		return nil, fmt.Errorf("reset stale facet claims: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET facet_status = $1 WHERE facet_status = $2 AND facet_retry_count >= $3`,
		models.FacetStatusQuarantined, models.FacetStatusPending, maxRetries,
	); err != nil {
		return nil, fmt.Errorf("quarantine exhausted facet claims: %w", err)
	}

	rows, err := tx.Query(ctx,
		jobSelectColumns+` FROM jobs WHERE facet_status = $1
		 ORDER BY first_seen_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED`,
		models.FacetStatusPending, n,
	)
	if err != nil {
		return nil, fmt.Errorf("select facet claim candidates: %w", err)
	}
	claimed, err := scanJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, tx.Commit(ctx)
	}

	now := time.Now()
	ids := make([]uuid.UUID, len(claimed))
	for i, job := range claimed {
		ids[i] = job.ID
		job.FacetStatus = models.FacetStatusInProgress
		job.FacetClaimedBy = &claimedBy
		job.FacetClaimedAt = &now
	}
	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET facet_status = $1, facet_claimed_by = $2, facet_claimed_at = $3 WHERE id = ANY($4)`,
		models.FacetStatusInProgress, claimedBy, now, ids,
	); err != nil {
		return nil, fmt.Errorf("mark facet claims in_progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return claimed, nil
}

// UpsertFacets replaces a job's facet embeddings and marks the claim done.
func (r *JobRepository) UpsertFacets(ctx context.Context, jobID uuid.UUID, contentHash string, facets []models.JobFacetEmbedding) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert-facets tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, f := range facets {
		_, err := tx.Exec(ctx,
			`INSERT INTO job_facet_embeddings (job_id, facet_key, facet_text, embedding, content_hash)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (job_id, facet_key) DO UPDATE SET
			     facet_text = $3, embedding = $4, content_hash = $5`,
			jobID, f.FacetKey, f.FacetText, vectorLiteral(f.Embedding), contentHash,
		)
		if err != nil {
			return fmt.Errorf("upsert facet %s: %w", f.FacetKey, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET facet_status = $1, facet_extraction_hash = $2, facet_claimed_by = NULL,
		                  facet_claimed_at = NULL, facet_retry_count = 0, facet_last_error = NULL
		 WHERE id = $3`,
		models.FacetStatusDone, contentHash, jobID,
	); err != nil {
		return fmt.Errorf("mark facet claim done: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert-facets tx: %w", err)
	}
	return nil
}

// ReleaseFacetClaim returns a claimed job to pending on failure (bumping its
// retry count) or is a no-op when err is nil, since UpsertFacets already
// released the claim on success.
func (r *JobRepository) ReleaseFacetClaim(ctx context.Context, jobID uuid.UUID, releaseErr error) error {
	if releaseErr == nil {
		return nil
	}
	msg := releaseErr.Error()
	_, err := r.db.pool.Exec(ctx,
		`UPDATE jobs SET facet_status = $1, facet_claimed_by = NULL, facet_claimed_at = NULL,
		                  facet_retry_count = facet_retry_count + 1, facet_last_error = $2
		 WHERE id = $3`,
		models.FacetStatusPending, msg, jobID,
	)
	if err != nil {
		return fmt.Errorf("release facet claim: %w", err)
	}
	return nil
}

const jobSelectColumns = `SELECT id, canonical_fingerprint, title, company, location_text, is_remote,
	description, skills, content_hash, raw_payload, first_seen_at, last_seen_at, is_extracted,
	is_embedded, summary_embedding, salary_min, salary_max, currency, job_level, min_years_experience,
	facet_status, facet_claimed_by, facet_claimed_at, facet_extraction_hash, facet_retry_count,
	facet_last_error`

// rowScanner abstracts pgx.Row/pgx.Rows' shared Scan method.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var embeddingLiteral *string
	if err := row.Scan(&job.ID, &job.CanonicalFingerprint, &job.Title, &job.Company, &job.LocationText,
		&job.IsRemote, &job.Description, &job.Skills, &job.ContentHash, &job.RawPayload,
		&job.FirstSeenAt, &job.LastSeenAt, &job.IsExtracted, &job.IsEmbedded, &embeddingLiteral,
		&job.SalaryMin, &job.SalaryMax, &job.Currency, &job.JobLevel, &job.MinYearsExperience,
		&job.FacetStatus, &job.FacetClaimedBy, &job.FacetClaimedAt, &job.FacetExtractionHash,
		&job.FacetRetryCount, &job.FacetLastError,
	); err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.SummaryEmbedding = parseVectorLiteral(embeddingLiteral)
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*models.Job, error) {
	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
