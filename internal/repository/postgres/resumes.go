package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jobmatch-ai/pipeline/internal/models"
)

// ResumeRepository is the pgx-backed interfaces.ResumeRepository.
type ResumeRepository struct {
	db *DB
}

// GetByFingerprint loads the structured resume for fingerprint, including
// its evidence units, or nil if none exists yet.
func (r *ResumeRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.StructuredResume, error) {
	var resume models.StructuredResume
	err := r.db.pool.QueryRow(ctx,
		`SELECT id, resume_fingerprint, raw_text, full_name, total_years, seniority, skills, summary,
		        wants_remote, avoided_industries, avoided_companies, min_salary, preferred_locations,
		        is_normalized, is_embedded
		 FROM structured_resumes WHERE resume_fingerprint = $1`,
		fingerprint,
	).Scan(&resume.ID, &resume.ResumeFingerprint, &resume.RawText, &resume.FullName, &resume.TotalYears,
		&resume.Seniority, &resume.Skills, &resume.Summary,
		&resume.Preferences.WantsRemote, &resume.Preferences.AvoidedIndustries, &resume.Preferences.AvoidedCompanies,
		&resume.Preferences.MinSalary, &resume.Preferences.PreferredLocations,
		&resume.IsNormalized, &resume.IsEmbedded,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resume by fingerprint: %w", err)
	}

	units, err := r.listEvidenceUnits(ctx, resume.ID)
	if err != nil {
		return nil, err
	}
	resume.EvidenceUnits = units
	return &resume, nil
}

// Upsert writes the normalized resume and its (not-yet-embedded) evidence
// units, replacing any prior row for the same fingerprint.
func (r *ResumeRepository) Upsert(ctx context.Context, resume *models.StructuredResume) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin resume upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO structured_resumes (id, resume_fingerprint, raw_text, full_name, total_years,
		                                 seniority, skills, summary, wants_remote, avoided_industries,
		                                 avoided_companies, min_salary, preferred_locations,
		                                 is_normalized, is_embedded)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (resume_fingerprint) DO UPDATE SET
		     raw_text = $3, full_name = $4, total_years = $5, seniority = $6, skills = $7, summary = $8,
		     wants_remote = $9, avoided_industries = $10, avoided_companies = $11, min_salary = $12,
		     preferred_locations = $13, is_normalized = $14, is_embedded = $15`,
		resume.ID, resume.ResumeFingerprint, resume.RawText, resume.FullName, resume.TotalYears,
		resume.Seniority, resume.Skills, resume.Summary, resume.Preferences.WantsRemote,
		resume.Preferences.AvoidedIndustries, resume.Preferences.AvoidedCompanies, resume.Preferences.MinSalary,
		resume.Preferences.PreferredLocations, resume.IsNormalized, resume.IsEmbedded,
	)
	if err != nil {
		return fmt.Errorf("upsert structured resume: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM resume_evidence_units WHERE resume_id = $1`, resume.ID); err != nil {
		return fmt.Errorf("clear stale evidence units: %w", err)
	}

	for _, u := range resume.EvidenceUnits {
		_, err := tx.Exec(ctx,
			`INSERT INTO resume_evidence_units (id, resume_id, source_section, text, skills,
			                                     years_at_this_role, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			u.ID, resume.ID, u.SourceSection, u.Text, u.Skills, u.YearsAtThisRole, vectorLiteral(u.Embedding),
		)
		if err != nil {
			return fmt.Errorf("insert evidence unit: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit resume upsert tx: %w", err)
	}
	return nil
}

// MarkEmbedded writes back the embeddings computed for an already-persisted
// set of evidence units and flips is_embedded on the parent resume.
func (r *ResumeRepository) MarkEmbedded(ctx context.Context, resumeID uuid.UUID, units []models.ResumeEvidenceUnit) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin resume embedding tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range units {
		_, err := tx.Exec(ctx,
			`UPDATE resume_evidence_units SET embedding = $1 WHERE id = $2`,
			vectorLiteral(u.Embedding), u.ID,
		)
		if err != nil {
			return fmt.Errorf("update evidence unit embedding %s: %w", u.ID, err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE structured_resumes SET is_embedded = true WHERE id = $1`, resumeID); err != nil {
		return fmt.Errorf("mark resume embedded: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit resume embedding tx: %w", err)
	}
	return nil
}

func (r *ResumeRepository) listEvidenceUnits(ctx context.Context, resumeID uuid.UUID) ([]models.ResumeEvidenceUnit, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT id, resume_id, source_section, text, skills, years_at_this_role, embedding
		 FROM resume_evidence_units WHERE resume_id = $1`, resumeID)
	if err != nil {
		return nil, fmt.Errorf("list evidence units: %w", err)
	}
	defer rows.Close()

	var out []models.ResumeEvidenceUnit
	for rows.Next() {
		var u models.ResumeEvidenceUnit
		var embeddingLiteral *string
		if err := rows.Scan(&u.ID, &u.ResumeID, &u.SourceSection, &u.Text, &u.Skills,
			&u.YearsAtThisRole, &embeddingLiteral); err != nil {
			return nil, fmt.Errorf("scan evidence unit: %w", err)
		}
		u.Embedding = parseVectorLiteral(embeddingLiteral)
		out = append(out, u)
	}
	return out, nil
}
