package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jobmatch-ai/pipeline/internal/models"
)

// MatchRepository is the pgx-backed interfaces.MatchRepository, implementing
// the full §4.10 upsert/supersede/invalidate branching.
type MatchRepository struct {
	db *DB
}

// UpsertActive applies the (job_id, resume_fingerprint) branching of §4.10 in one
// transaction: insert if no active row exists, supersede-to-stale and
// insert if the job's content hash changed since the active row was
// written, update in place (preserving notified) if recalculateExisting,
// or no-op otherwise.
func (r *MatchRepository) UpsertActive(ctx context.Context, m *models.JobMatch, recalculateExisting bool) (models.MatchTransition, error) {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin upsert-match tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingID uuid.UUID
	var existingContentHash string
	var existingNotified bool
	err = tx.QueryRow(ctx,
		`SELECT id, job_content_hash, notified FROM job_matches
		 WHERE job_id = $1 AND resume_fingerprint = $2 AND status = $3
		 FOR UPDATE`,
		m.JobID, m.ResumeFingerprint, models.MatchStatusActive,
	).Scan(&existingID, &existingContentHash, &existingNotified)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if err := insertMatch(ctx, tx, m); err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("commit insert-match tx: %w", err)
		}
		return models.MatchInserted, nil

	case err != nil:
		return "", fmt.Errorf("lookup active match: %w", err)

	case existingContentHash != m.JobContentHash:
		if _, err := tx.Exec(ctx,
			`UPDATE job_matches SET status = $1 WHERE id = $2`, models.MatchStatusStale, existingID,
		); err != nil {
			return "", fmt.Errorf("supersede stale match: %w", err)
		}
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.Notified = false
		if err := insertMatch(ctx, tx, m); err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("commit supersede tx: %w", err)
		}
		return models.MatchSupersededStale, nil

	case !recalculateExisting:
		return models.MatchSkippedUnchanged, tx.Commit(ctx)

	default:
		m.ID = existingID
		m.Notified = existingNotified
		if err := updateMatchInPlace(ctx, tx, m); err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("commit update-in-place tx: %w", err)
		}
		return models.MatchUpdatedInPlace, nil
	}
}

func insertMatch(ctx context.Context, tx pgx.Tx, m *models.JobMatch) error {
	penalties, err := json.Marshal(m.PenaltyDetails)
	if err != nil {
		return fmt.Errorf("marshal penalty details: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO job_matches (id, job_id, resume_id, status, job_content_hash, resume_fingerprint,
		                          required_coverage, preferred_coverage, job_similarity, base_score, fit_score,
		                          want_score, overall_score, penalties, penalty_details, match_type,
		                          calculated_at, notified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		m.ID, m.JobID, m.ResumeID, models.MatchStatusActive, m.JobContentHash, m.ResumeFingerprint,
		m.RequiredCoverage, m.PreferredCoverage, m.JobSimilarity, m.BaseScore, m.FitScore, m.WantScore,
		m.OverallScore, m.PenaltyTotal, penalties, m.MatchType, m.CalculatedAt, m.Notified,
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return replaceMatchRequirements(ctx, tx, m.ID, m.Requirements)
}

func updateMatchInPlace(ctx context.Context, tx pgx.Tx, m *models.JobMatch) error {
	penalties, err := json.Marshal(m.PenaltyDetails)
	if err != nil {
		return fmt.Errorf("marshal penalty details: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE job_matches SET required_coverage = $1, preferred_coverage = $2, job_similarity = $3,
		                         base_score = $4, fit_score = $5, want_score = $6, overall_score = $7,
		                         penalties = $8, penalty_details = $9, calculated_at = $10
		 WHERE id = $11`,
		m.RequiredCoverage, m.PreferredCoverage, m.JobSimilarity, m.BaseScore, m.FitScore, m.WantScore,
		m.OverallScore, m.PenaltyTotal, penalties, m.CalculatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update match in place: %w", err)
	}
	return replaceMatchRequirements(ctx, tx, m.ID, m.Requirements)
}

func replaceMatchRequirements(ctx context.Context, tx pgx.Tx, matchID uuid.UUID, reqs []models.JobMatchRequirement) error {
	if _, err := tx.Exec(ctx, `DELETE FROM job_match_requirements WHERE match_id = $1`, matchID); err != nil {
		return fmt.Errorf("clear stale match requirements: %w", err)
	}
	for _, req := range reqs {
		_, err := tx.Exec(ctx,
			`INSERT INTO job_match_requirements (match_id, requirement_id, covered, best_similarity, best_evidence_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			matchID, req.RequirementID, req.Covered, req.BestSimilarity, req.BestEvidenceID,
		)
		if err != nil {
			return fmt.Errorf("insert match requirement: %w", err)
		}
	}
	return nil
}

// InvalidateForJob flips every active match referencing jobID to stale,
// recording reason in invalidated_reason.
func (r *MatchRepository) InvalidateForJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	_, err := r.db.pool.Exec(ctx,
		`UPDATE job_matches SET status = $1, invalidated_reason = $2 WHERE job_id = $3 AND status = $4`,
		models.MatchStatusStale, reason, jobID, models.MatchStatusActive,
	)
	if err != nil {
		return fmt.Errorf("invalidate matches for job %s (%s): %w", jobID, reason, err)
	}
	return nil
}

// InvalidateForResume flips every active match for resumeFingerprint to
// stale, recording reason in invalidated_reason.
func (r *MatchRepository) InvalidateForResume(ctx context.Context, resumeFingerprint, reason string) error {
	_, err := r.db.pool.Exec(ctx,
		`UPDATE job_matches SET status = $1, invalidated_reason = $2 WHERE resume_fingerprint = $3 AND status = $4`,
		models.MatchStatusStale, reason, resumeFingerprint, models.MatchStatusActive,
	)
	if err != nil {
		return fmt.Errorf("invalidate matches for resume %s (%s): %w", resumeFingerprint, reason, err)
	}
	return nil
}

// ListActiveForResume returns every active match for resumeID, including
// its child requirement coverage rows.
func (r *MatchRepository) ListActiveForResume(ctx context.Context, resumeID uuid.UUID) ([]*models.JobMatch, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT id, job_id, resume_id, status, job_content_hash, resume_fingerprint, required_coverage,
		        preferred_coverage, job_similarity, base_score, fit_score, want_score, overall_score,
		        penalties, penalty_details, match_type, calculated_at, invalidated_reason, notified
		 FROM job_matches WHERE resume_id = $1 AND status = $2`,
		resumeID, models.MatchStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list active matches: %w", err)
	}

	var out []*models.JobMatch
	for rows.Next() {
		var m models.JobMatch
		var penalties []byte
		if err := rows.Scan(&m.ID, &m.JobID, &m.ResumeID, &m.Status, &m.JobContentHash, &m.ResumeFingerprint,
			&m.RequiredCoverage, &m.PreferredCoverage, &m.JobSimilarity, &m.BaseScore, &m.FitScore, &m.WantScore,
			&m.OverallScore, &m.PenaltyTotal, &penalties, &m.MatchType, &m.CalculatedAt, &m.InvalidatedReason,
			&m.Notified); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if len(penalties) > 0 {
			if err := json.Unmarshal(penalties, &m.PenaltyDetails); err != nil {
				rows.Close()
				return nil, fmt.Errorf("unmarshal penalty details: %w", err)
			}
		}
		out = append(out, &m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range out {
		reqs, err := r.listMatchRequirements(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		m.Requirements = reqs
	}
	return out, nil
}

func (r *MatchRepository) listMatchRequirements(ctx context.Context, matchID uuid.UUID) ([]models.JobMatchRequirement, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT match_id, requirement_id, covered, best_similarity, best_evidence_id
		 FROM job_match_requirements WHERE match_id = $1`, matchID)
	if err != nil {
		return nil, fmt.Errorf("list match requirements: %w", err)
	}
	defer rows.Close()

	var out []models.JobMatchRequirement
	for rows.Next() {
		var req models.JobMatchRequirement
		if err := rows.Scan(&req.MatchID, &req.RequirementID, &req.Covered, &req.BestSimilarity, &req.BestEvidenceID); err != nil {
			return nil, fmt.Errorf("scan match requirement: %w", err)
		}
		out = append(out, req)
	}
	return out, nil
}
