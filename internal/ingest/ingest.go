// Package ingest turns one raw scraped job posting into a normalized Job
// row plus its JobPostSource, per §4.3.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/common"
	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/models"
	"github.com/jobmatch-ai/pipeline/internal/textutil"
)

// RawJob is one posting as returned by the scraper service, loosely typed
// since jobspy's own schema varies slightly by site_type.
type RawJob struct {
	Title       string          `json:"title"`
	Company     string          `json:"company"`
	Location    json.RawMessage `json:"location"`
	URL         string          `json:"url"`
	Site        string          `json:"site"`
	Description string          `json:"description"`
	Skills      []string        `json:"skills"`
}

// Ingester applies the upsert-by-fingerprint flow of §4.3.
type Ingester struct {
	jobs   interfaces.JobRepository
	logger arbor.ILogger
}

// New builds an Ingester.
func New(jobs interfaces.JobRepository, logger arbor.ILogger) *Ingester {
	return &Ingester{jobs: jobs, logger: logger}
}

// Ingest normalizes raw and upserts it by canonical fingerprint, updating
// last_seen_at on repeat sightings and recomputing content_hash so a
// changed description/skills/title/company triggers downstream
// re-extraction and match invalidation.
func (in *Ingester) Ingest(ctx context.Context, raw RawJob) (*models.Job, error) {
	location := NormalizeLocation(raw.Location)
	fingerprint := textutil.CanonicalFingerprint(raw.Company, raw.Title, location)
	contentHash := textutil.ContentHash(raw.Description, raw.Skills, raw.Title, raw.Company)

	now := time.Now().UTC()
	job := &models.Job{
		ID:                   common.NewID(),
		CanonicalFingerprint: fingerprint,
		Title:                raw.Title,
		Company:              raw.Company,
		LocationText:         location,
		Description:          raw.Description,
		Skills:               raw.Skills,
		ContentHash:          contentHash,
		FirstSeenAt:          now,
		LastSeenAt:           now,
		FacetStatus:          models.FacetStatusPending,
	}

	created, err := in.jobs.UpsertByFingerprint(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("upsert job by fingerprint %s: %w", fingerprint, err)
	}

	if err := in.jobs.UpsertSource(ctx, models.JobPostSource{JobID: job.ID, Site: raw.Site, URL: raw.URL}); err != nil {
		return nil, fmt.Errorf("upsert job post source: %w", err)
	}

	in.logger.Info().
		Str("job_id", job.ID.String()).
		Str("fingerprint", fingerprint).
		Bool("created", created).
		Msg("ingested job posting")

	return job, nil
}

// NormalizeLocation collapses jobspy's varying location shapes (a plain
// string, a {city,country} object, or a list) to one display string, per
// §4.3 step 1.
func NormalizeLocation(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var asObj struct {
		City    string `json:"city"`
		Country string `json:"country"`
	}
	if err := json.Unmarshal(raw, &asObj); err == nil && (asObj.City != "" || asObj.Country != "") {
		if asObj.City != "" && asObj.Country != "" {
			return asObj.City + ", " + asObj.Country
		}
		if asObj.City != "" {
			return asObj.City
		}
		return asObj.Country
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil && len(asList) > 0 {
		return asList[0]
	}

	return ""
}
