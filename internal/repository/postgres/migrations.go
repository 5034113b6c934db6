package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// migration is one forward-only, idempotent schema step, applied inside its
// own transaction and recorded in schema_migrations so Connect is safe to
// call against an already-migrated database, grounded on the teacher's
// sqlite migration runner (internal/storage/sqlite/migrations.go) adapted
// to pgx transactions instead of database/sql.
type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{1, "extensions", migrationExtensions},
	{2, "jobs", migrationJobs},
	{3, "job_children", migrationJobChildren},
	{4, "resumes", migrationResumes},
	{5, "matches", migrationMatches},
	{6, "notifications", migrationNotifications},
	{7, "match_audit_columns", migrationMatchAuditColumns},
}

const migrationExtensions = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;
`

const migrationJobs = `
CREATE TABLE IF NOT EXISTS jobs (
	id                    uuid PRIMARY KEY,
	canonical_fingerprint text NOT NULL UNIQUE,
	title                 text NOT NULL,
	company               text NOT NULL,
	location_text         text NOT NULL DEFAULT '',
	is_remote             boolean NOT NULL DEFAULT false,
	description           text,
	skills                text[] NOT NULL DEFAULT '{}',
	content_hash          text NOT NULL,
	raw_payload           jsonb,
	first_seen_at         timestamptz NOT NULL,
	last_seen_at          timestamptz NOT NULL,
	is_extracted          boolean NOT NULL DEFAULT false,
	is_embedded           boolean NOT NULL DEFAULT false,
	summary_embedding     vector,
	salary_min            double precision,
	salary_max            double precision,
	currency              text,
	job_level             text,
	min_years_experience  integer,
	facet_status          text NOT NULL DEFAULT 'pending',
	facet_claimed_by      text,
	facet_claimed_at      timestamptz,
	facet_extraction_hash text,
	facet_retry_count     integer NOT NULL DEFAULT 0,
	facet_last_error      text
);
CREATE INDEX IF NOT EXISTS idx_jobs_facet_claim
	ON jobs (facet_status, first_seen_at)
	WHERE facet_status = 'pending';
CREATE INDEX IF NOT EXISTS idx_jobs_unextracted ON jobs (first_seen_at) WHERE is_extracted = false;
CREATE INDEX IF NOT EXISTS idx_jobs_unembedded ON jobs (first_seen_at) WHERE is_extracted = true AND is_embedded = false;

CREATE TABLE IF NOT EXISTS job_post_sources (
	job_id uuid NOT NULL REFERENCES jobs(id),
	site   text NOT NULL,
	url    text NOT NULL,
	UNIQUE (site, url)
);
`

const migrationJobChildren = `
CREATE TABLE IF NOT EXISTS job_requirement_units (
	id            uuid PRIMARY KEY,
	job_id        uuid NOT NULL REFERENCES jobs(id),
	req_type      text NOT NULL,
	text          text NOT NULL,
	skills        text[] NOT NULL DEFAULT '{}',
	category      text NOT NULL DEFAULT '',
	proficiency   text NOT NULL DEFAULT '',
	ordinal       integer NOT NULL DEFAULT 0,
	min_years     integer,
	years_context text,
	embedding     vector
);
CREATE INDEX IF NOT EXISTS idx_requirement_units_job ON job_requirement_units (job_id);

CREATE TABLE IF NOT EXISTS job_facet_embeddings (
	job_id       uuid NOT NULL REFERENCES jobs(id),
	facet_key    text NOT NULL,
	facet_text   text NOT NULL,
	embedding    vector,
	content_hash text NOT NULL,
	PRIMARY KEY (job_id, facet_key)
);
`

const migrationResumes = `
CREATE TABLE IF NOT EXISTS structured_resumes (
	id                  uuid PRIMARY KEY,
	resume_fingerprint  text NOT NULL UNIQUE,
	raw_text            text NOT NULL DEFAULT '',
	full_name           text NOT NULL DEFAULT '',
	total_years         integer,
	seniority           text NOT NULL DEFAULT '',
	skills              text[] NOT NULL DEFAULT '{}',
	summary             text NOT NULL DEFAULT '',
	wants_remote        boolean NOT NULL DEFAULT false,
	avoided_industries  text[] NOT NULL DEFAULT '{}',
	avoided_companies   text[] NOT NULL DEFAULT '{}',
	min_salary          double precision,
	preferred_locations text[] NOT NULL DEFAULT '{}',
	is_normalized       boolean NOT NULL DEFAULT false,
	is_embedded         boolean NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS resume_evidence_units (
	id                 uuid PRIMARY KEY,
	resume_id          uuid NOT NULL REFERENCES structured_resumes(id),
	source_section     text NOT NULL,
	text               text NOT NULL,
	skills             text[] NOT NULL DEFAULT '{}',
	years_at_this_role integer,
	embedding          vector
);
CREATE INDEX IF NOT EXISTS idx_evidence_units_resume ON resume_evidence_units (resume_id);
`

const migrationMatches = `
CREATE TABLE IF NOT EXISTS job_matches (
	id                  uuid PRIMARY KEY,
	job_id              uuid NOT NULL REFERENCES jobs(id),
	resume_id           uuid NOT NULL REFERENCES structured_resumes(id),
	status              text NOT NULL,
	job_content_hash    text NOT NULL,
	resume_fingerprint  text NOT NULL,
	required_coverage   double precision NOT NULL DEFAULT 0,
	preferred_coverage  double precision NOT NULL DEFAULT 0,
	job_similarity      double precision NOT NULL DEFAULT 0,
	fit_score           double precision NOT NULL DEFAULT 0,
	want_score          double precision,
	overall_score       double precision NOT NULL DEFAULT 0,
	penalty_details     jsonb,
	notified            boolean NOT NULL DEFAULT false
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_job_matches_active
	ON job_matches (job_id, resume_fingerprint)
	WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_job_matches_resume ON job_matches (resume_id, status);

CREATE TABLE IF NOT EXISTS job_match_requirements (
	match_id         uuid NOT NULL REFERENCES job_matches(id),
	requirement_id   uuid NOT NULL REFERENCES job_requirement_units(id),
	covered          boolean NOT NULL,
	best_similarity  double precision NOT NULL,
	best_evidence_id uuid
);
CREATE INDEX IF NOT EXISTS idx_match_requirements_match ON job_match_requirements (match_id);
`

// migrationMatchAuditColumns adds §3's base_score/penalties/match_type/
// calculated_at/invalidated_reason columns, added after the initial
// job_matches table shipped, so each is an idempotent ADD COLUMN.
const migrationMatchAuditColumns = `
ALTER TABLE job_matches ADD COLUMN IF NOT EXISTS base_score double precision NOT NULL DEFAULT 0;
ALTER TABLE job_matches ADD COLUMN IF NOT EXISTS penalties double precision NOT NULL DEFAULT 0;
ALTER TABLE job_matches ADD COLUMN IF NOT EXISTS match_type text NOT NULL DEFAULT 'requirements_only';
ALTER TABLE job_matches ADD COLUMN IF NOT EXISTS calculated_at timestamptz NOT NULL DEFAULT now();
ALTER TABLE job_matches ADD COLUMN IF NOT EXISTS invalidated_reason text;
`

const migrationNotifications = `
CREATE TABLE IF NOT EXISTS notification_trackers (
	user_id           text NOT NULL,
	job_match_id      uuid,
	event_type        text NOT NULL,
	channel_type      text NOT NULL,
	dedup_hash        text PRIMARY KEY,
	content_hash      text NOT NULL,
	last_sent_at      timestamptz NOT NULL,
	send_count        integer NOT NULL DEFAULT 1,
	sent_successfully boolean NOT NULL DEFAULT false,
	error_message     text
);
`

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version integer PRIMARY KEY,
		name    text NOT NULL,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err := db.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %d (%s): %w", m.version, m.name, err)
		}
		if applied {
			continue
		}

		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %d (%s): %w", m.version, m.name, err)
		}
		if err := runMigrationStatements(ctx, tx, m.up); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d (%s): %w", m.version, m.name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d (%s): %w", m.version, m.name, err)
		}
		db.logger.Info().Int("version", m.version).Str("name", m.name).Msg("applied database migration")
	}
	return nil
}

// runMigrationStatements executes the whole sql script in one Exec call;
// with no arguments pgx sends it over the simple query protocol, which
// accepts several semicolon-separated statements in one string.
func runMigrationStatements(ctx context.Context, tx pgx.Tx, sql string) error {
	_, err := tx.Exec(ctx, sql)
	return err
}
