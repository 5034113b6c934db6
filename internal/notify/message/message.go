// Package message renders the channel-agnostic NotificationMessage payload
// for each event type, split from channel dispatch per the original
// notification/message_builder.py, so templates can be tested without a
// transport.
package message

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"

	"github.com/jobmatch-ai/pipeline/internal/models"
)

// Builder renders NotificationMessage bodies from Markdown templates.
type Builder struct {
	md goldmark.Markdown
}

// New builds a Builder.
func New() *Builder {
	return &Builder{md: goldmark.New()}
}

// Build renders the message for one event against one job match. previous
// is the superseded match (nil for new_match/batch_complete), used to
// surface the score delta for score_improved; other events ignore it.
func (b *Builder) Build(userID string, event models.NotificationEventType, job *models.Job, match *models.JobMatch, previous *models.JobMatch) (models.NotificationMessage, error) {
	subject, bodyMD, metadata := b.render(event, job, match, previous)

	var buf bytes.Buffer
	if err := b.md.Convert([]byte(bodyMD), &buf); err != nil {
		return models.NotificationMessage{}, fmt.Errorf("render notification body: %w", err)
	}

	return models.NotificationMessage{
		UserID:    userID,
		MatchID:   match.ID,
		EventType: event,
		Subject:   subject,
		BodyText:  bodyMD,
		BodyHTML:  buf.String(),
		Metadata:  metadata,
	}, nil
}

func (b *Builder) render(event models.NotificationEventType, job *models.Job, match *models.JobMatch, previous *models.JobMatch) (subject, bodyMD string, metadata map[string]string) {
	metadata = map[string]string{
		"job_id":        job.ID.String(),
		"company":       job.Company,
		"title":         job.Title,
		"overall_score": fmt.Sprintf("%.1f", match.OverallScore),
	}

	switch event {
	case models.EventNewMatch:
		subject = fmt.Sprintf("New match: %s at %s (%.0f%%)", job.Title, job.Company, match.OverallScore)
		bodyMD = fmt.Sprintf(
			"## %s at %s\n\n**Overall score:** %.1f\n**Fit:** %.1f\n\n%s\n",
			job.Title, job.Company, match.OverallScore, match.FitScore, job.LocationText,
		)
	case models.EventScoreImproved:
		delta := 0.0
		if previous != nil {
			delta = match.OverallScore - previous.OverallScore
		}
		subject = fmt.Sprintf("Score improved: %s at %s (+%.1f)", job.Title, job.Company, delta)
		bodyMD = fmt.Sprintf(
			"## %s at %s\n\nScore moved from **%.1f** to **%.1f**.\n",
			job.Title, job.Company, match.OverallScore-delta, match.OverallScore,
		)
		metadata["delta"] = fmt.Sprintf("%.1f", delta)
	case models.EventStatusChanged:
		subject = fmt.Sprintf("Status changed: %s at %s", job.Title, job.Company)
		bodyMD = fmt.Sprintf("## %s at %s\n\nMatch status is now **%s**.\n", job.Title, job.Company, match.Status)
		metadata["status"] = string(match.Status)
	case models.EventBatchComplete:
		subject = "Job match cycle complete"
		bodyMD = fmt.Sprintf("A matching cycle finished. Latest match: **%s at %s** (%.1f).\n", job.Title, job.Company, match.OverallScore)
	default:
		subject = fmt.Sprintf("Job match update: %s at %s", job.Title, job.Company)
		bodyMD = fmt.Sprintf("## %s at %s\n\nScore: %.1f\n", job.Title, job.Company, match.OverallScore)
	}

	return subject, bodyMD, metadata
}
