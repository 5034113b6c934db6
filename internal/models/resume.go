package models

import "github.com/google/uuid"

// EvidenceSection tags which part of a resume an evidence unit was derived
// from, mirroring the original profiler's source_section labels.
type EvidenceSection string

const (
	SectionExperience  EvidenceSection = "experience"
	SectionProject     EvidenceSection = "project"
	SectionSkill       EvidenceSection = "skill"
	SectionEducation   EvidenceSection = "education"
	SectionCertificate EvidenceSection = "certificate"
	SectionSummary     EvidenceSection = "summary"
)

// CandidatePreferences are structured candidate preferences stored with the
// resume. They are not scoring penalties, and no pipeline stage (ResultPolicy
// included) filters results by them. Remote-only retrieval and the Fit-score
// remote penalty come from the scorer's wants_remote config, not WantsRemote.
type CandidatePreferences struct {
	WantsRemote       bool
	AvoidedIndustries []string
	AvoidedCompanies  []string
	MinSalary         *float64
	PreferredLocations []string
}

// StructuredResume is the LLM-normalized, versioned profile derived from the
// candidate's raw resume text. A new fingerprint triggers re-normalization
// and re-derivation of evidence units; everything downstream is keyed off
// ResumeFingerprint, never off raw text.
type StructuredResume struct {
	ID                uuid.UUID
	ResumeFingerprint string
	RawText           string

	FullName    string
	TotalYears  *int
	Seniority   *string
	Skills      []string
	Summary     string
	Preferences CandidatePreferences

	IsNormalized bool
	IsEmbedded   bool

	EvidenceUnits []ResumeEvidenceUnit
}

// ResumeEvidenceUnit is one atomic, embeddable claim derived from a
// StructuredResume (a bullet, a skill line, a project description), tagged
// by the section of the resume it was derived from.
type ResumeEvidenceUnit struct {
	ID              uuid.UUID
	ResumeID        uuid.UUID
	SourceSection   EvidenceSection
	Text            string
	Skills          []string
	YearsAtThisRole *int
	Embedding       []float32
}
