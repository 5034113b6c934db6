// Package resume implements the resume profiler of §4.7: fingerprint
// short-circuit, LLM normalization, evidence-unit derivation, and atomic
// embed-and-persist.
package resume

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/common"
	"github.com/jobmatch-ai/pipeline/internal/embed"
	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/models"
	"github.com/jobmatch-ai/pipeline/internal/schemas"
	"github.com/jobmatch-ai/pipeline/internal/textutil"
)

type rawProfile struct {
	Profile struct {
		Summary    string   `json:"summary"`
		FullName   *string  `json:"full_name"`
		TotalYears *int     `json:"total_years"`
		Seniority  *string  `json:"seniority"`
		Experience []struct {
			Title       string   `json:"title"`
			Company     string   `json:"company"`
			Description string   `json:"description"`
			Years       *int     `json:"years"`
			Highlights  []string `json:"highlights"`
		} `json:"experience"`
		Projects []struct {
			Name         string   `json:"name"`
			Description  string   `json:"description"`
			Technologies []string `json:"technologies"`
		} `json:"projects"`
		Education []struct {
			Institution string  `json:"institution"`
			Degree      string  `json:"degree"`
			Field       *string `json:"field"`
		} `json:"education"`
		Skills []string `json:"skills"`
	} `json:"profile"`
}

// Profiler runs the resume normalization + evidence derivation cycle.
type Profiler struct {
	resumes interfaces.ResumeRepository
	llm     interfaces.LLMProvider
	logger  arbor.ILogger
}

// New builds a Profiler.
func New(resumes interfaces.ResumeRepository, llm interfaces.LLMProvider, logger arbor.ILogger) *Profiler {
	return &Profiler{resumes: resumes, llm: llm, logger: logger}
}

// Profile runs §4.7 end to end for one raw resume submission: short-circuit
// on an existing fingerprint, otherwise normalize, derive evidence units,
// embed everything, and persist atomically.
func (p *Profiler) Profile(ctx context.Context, rawText string) (*models.StructuredResume, error) {
	fingerprint := textutil.ResumeFingerprint(rawText)

	if existing, err := p.resumes.GetByFingerprint(ctx, fingerprint); err == nil && existing != nil {
		p.logger.Info().Str("resume_fingerprint", fingerprint).Msg("resume fingerprint unchanged, skipping re-extraction")
		return existing, nil
	}

	envelope, err := schemas.GetSchema(schemas.Resume)
	if err != nil {
		return nil, fmt.Errorf("load resume schema: %w", err)
	}

	raw, err := p.llm.ExtractStructured(ctx, rawText, "resume", envelope)
	if err != nil {
		return nil, fmt.Errorf("llm resume normalization: %w", err)
	}

	var parsed rawProfile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal normalized resume: %w", err)
	}

	structured := &models.StructuredResume{
		ID:                common.NewID(),
		ResumeFingerprint: fingerprint,
		RawText:           rawText,
		TotalYears:        parsed.Profile.TotalYears,
		Seniority:         parsed.Profile.Seniority,
		Skills:            parsed.Profile.Skills,
		Summary:           parsed.Profile.Summary,
		IsNormalized:      true,
	}
	if parsed.Profile.FullName != nil {
		structured.FullName = *parsed.Profile.FullName
	}

	units := deriveEvidenceUnits(structured.ID, parsed)
	structured.EvidenceUnits = units

	texts := make([]string, 0, len(units))
	for _, u := range units {
		texts = append(texts, u.Text)
	}
	vectors, err := p.llm.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed resume sections: %w", err)
	}

	for i := range structured.EvidenceUnits {
		structured.EvidenceUnits[i].Embedding = embed.Normalize(vectors[i])
	}
	structured.IsEmbedded = true

	if err := p.resumes.Upsert(ctx, structured); err != nil {
		return nil, fmt.Errorf("persist structured resume: %w", err)
	}
	if err := p.resumes.MarkEmbedded(ctx, structured.ID, structured.EvidenceUnits); err != nil {
		return nil, fmt.Errorf("persist resume evidence embeddings: %w", err)
	}

	p.logger.Info().Str("resume_fingerprint", fingerprint).Int("evidence_units", len(units)).Msg("normalized and embedded resume")
	return structured, nil
}

// deriveEvidenceUnits builds one atomic, embeddable claim per experience
// description, per highlight, per tech keyword, per project field, and per
// skill, tagged by source_section (§4.7 step 3).
func deriveEvidenceUnits(resumeID uuid.UUID, parsed rawProfile) []models.ResumeEvidenceUnit {
	var units []models.ResumeEvidenceUnit

	appendUnit := func(section models.EvidenceSection, text string, years *int) {
		if text == "" {
			return
		}
		unit := models.ResumeEvidenceUnit{
			ID:            common.NewID(),
			ResumeID:      resumeID,
			SourceSection: section,
			Text:          text,
			YearsAtThisRole: years,
		}
		if years == nil {
			if y, ok := textutil.ExtractMinYears(text); ok {
				unit.YearsAtThisRole = &y
			}
		}
		units = append(units, unit)
	}

	for _, exp := range parsed.Profile.Experience {
		appendUnit(models.SectionExperience, exp.Description, exp.Years)
		for _, h := range exp.Highlights {
			appendUnit(models.SectionExperience, h, exp.Years)
		}
	}
	for _, proj := range parsed.Profile.Projects {
		appendUnit(models.SectionProject, proj.Description, nil)
		for _, tech := range proj.Technologies {
			appendUnit(models.SectionProject, tech, nil)
		}
	}
	for _, edu := range parsed.Profile.Education {
		text := edu.Degree + " - " + edu.Institution
		appendUnit(models.SectionEducation, text, nil)
	}
	for _, skill := range parsed.Profile.Skills {
		appendUnit(models.SectionSkill, skill, nil)
	}
	if parsed.Profile.Summary != "" {
		appendUnit(models.SectionSummary, parsed.Profile.Summary, parsed.Profile.TotalYears)
	}

	return units
}
