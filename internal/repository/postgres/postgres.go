// Package postgres implements every SQL-backed interfaces.* contract against
// a single pgxpool.Pool: jobs, requirements, facets, resumes, matches, and
// the notification dedup tracker. Grounded on jonkmatsumo-resume-customizer's
// internal/db package: one connection-pool wrapper, one receiver type per
// concern, plain $N-parameterized SQL with no ORM.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"
)

// DB wraps a pgx connection pool shared by every repository in this package.
type DB struct {
	pool   *pgxpool.Pool
	logger arbor.ILogger
}

// Connect opens a pool against databaseURL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, logger arbor.ILogger) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info().Msg("connected to postgres")

	db := &DB{pool: pool, logger: logger}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// JobRepository returns the JobRepository implementation backed by db.
func (db *DB) JobRepository() *JobRepository {
	return &JobRepository{db: db}
}

// ResumeRepository returns the ResumeRepository implementation backed by db.
func (db *DB) ResumeRepository() *ResumeRepository {
	return &ResumeRepository{db: db}
}

// MatchRepository returns the MatchRepository implementation backed by db.
func (db *DB) MatchRepository() *MatchRepository {
	return &MatchRepository{db: db}
}

// VectorStore returns the VectorStore implementation backed by db.
func (db *DB) VectorStore() *VectorStore {
	return &VectorStore{db: db}
}

// NotificationTrackerStore returns the dedup tracker store backed by db.
func (db *DB) NotificationTrackerStore() *NotificationTrackerStore {
	return &NotificationTrackerStore{db: db}
}
