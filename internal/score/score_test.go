package score

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/jobmatch-ai/pipeline/internal/match"
	"github.com/jobmatch-ai/pipeline/internal/models"
)

func baseConfig() Config {
	return Config{
		WeightRequired:   0.5,
		WeightPreferred:  0.2,
		WeightSimilarity: 0.3,
		FitWeight:        0.7,
		WantWeight:       0.3,
		FacetWeights: map[models.FacetKey]float64{
			models.FacetRemoteFlexibility: 1,
			models.FacetCompensation:      1,
		},
		PenaltyMissingRequired:                10,
		PenaltySeniorityMismatch:              15,
		PenaltyCompensationMismatch:           20,
		PenaltyExperienceShortfallPerYear:     5,
		PenaltyExperienceShortfallMaxMultiple: 3,
	}
}

func years(n int) *int { return &n }

func requirement(reqType models.ReqType, minYears *int) models.JobRequirementUnit {
	return models.JobRequirementUnit{
		ID:       uuid.New(),
		ReqType:  reqType,
		Text:     "requirement",
		MinYears: minYears,
	}
}

func evidence(yearsAtRole *int) *models.ResumeEvidenceUnit {
	return &models.ResumeEvidenceUnit{
		ID:              uuid.New(),
		YearsAtThisRole: yearsAtRole,
	}
}

func prelimFullyCovered() match.Preliminary {
	job := &models.Job{ID: uuid.New()}
	req := requirement(models.ReqTypeRequired, nil)
	return match.Preliminary{
		Job:           job,
		JobSimilarity: 1,
		RequirementMatches: []match.RequirementMatchResult{
			{Requirement: req, Evidence: evidence(nil), Similarity: 1, IsCovered: true},
		},
	}
}

func TestScoreStaysWithinZeroToHundred(t *testing.T) {
	cfg := baseConfig()
	cfg.TargetSeniority = "junior"

	level := "Senior"
	minSalary := 200000.0
	salaryMax := 50000.0
	shortYears := years(10)

	job := &models.Job{ID: uuid.New(), JobLevel: &level, SalaryMax: &salaryMax}
	req := requirement(models.ReqTypeRequired, shortYears)
	missingReq := requirement(models.ReqTypeRequired, nil)

	p := match.Preliminary{
		Job:           job,
		JobSimilarity: 0,
		RequirementMatches: []match.RequirementMatchResult{
			{Requirement: req, Evidence: evidence(years(0)), Similarity: 0.1, IsCovered: true},
			{Requirement: missingReq, Evidence: nil, Similarity: 0, IsCovered: false},
		},
		MissingRequirements: []models.JobRequirementUnit{missingReq},
	}
	cfg.MinSalary = &minSalary
	cfg.WantsRemote = true

	results := Score([]match.Preliminary{p}, cfg, Policy{}, nil, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]

	if r.FitScore < 0 || r.FitScore > 100 {
		t.Fatalf("fit score out of bounds: %f", r.FitScore)
	}
	if r.OverallScore < 0 || r.OverallScore > 100 {
		t.Fatalf("overall score out of bounds: %f", r.OverallScore)
	}
	if r.WantScore != nil && (*r.WantScore < 0 || *r.WantScore > 100) {
		t.Fatalf("want score out of bounds: %f", *r.WantScore)
	}
}

func TestOverallEqualsFitWhenWantScoreUndefined(t *testing.T) {
	cfg := baseConfig()
	p := prelimFullyCovered()

	// No want embeddings and no facets: wantScore is nil, so overall must
	// equal fit exactly (§4.9's want_score-undefined case).
	results := Score([]match.Preliminary{p}, cfg, Policy{}, nil, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.WantScore != nil {
		t.Fatalf("expected nil want score, got %v", *r.WantScore)
	}
	if math.Abs(r.OverallScore-r.FitScore) > 1e-9 {
		t.Fatalf("overall (%f) must equal fit (%f) when want score is undefined", r.OverallScore, r.FitScore)
	}
}

func TestExperienceShortfallPenaltyAppliedOncePerRequirement(t *testing.T) {
	cfg := baseConfig()
	req := requirement(models.ReqTypeRequired, years(8))

	matches := []match.RequirementMatchResult{
		{Requirement: req, Evidence: evidence(years(2)), Similarity: 0.9, IsCovered: true},
		// Same requirement ID matched twice (e.g. two evidence candidates);
		// the dedup set must only charge the penalty once.
		{Requirement: req, Evidence: evidence(years(1)), Similarity: 0.8, IsCovered: true},
	}

	amount, reasons := experienceShortfallPenalty(matches, cfg)
	if len(reasons) != 1 {
		t.Fatalf("expected exactly one penalty reason, got %d: %v", len(reasons), reasons)
	}

	maxPerRequirement := cfg.PenaltyExperienceShortfallPerYear * cfg.PenaltyExperienceShortfallMaxMultiple
	if amount > maxPerRequirement {
		t.Fatalf("penalty %f exceeds per-requirement cap %f", amount, maxPerRequirement)
	}
	// shortfall = 8 - 2 = 6 years, capped at max_multiple * per_year = 15.
	if amount != maxPerRequirement {
		t.Fatalf("expected capped amount %f, got %f", maxPerRequirement, amount)
	}
}

func TestExperienceShortfallPenaltyZeroWhenMet(t *testing.T) {
	cfg := baseConfig()
	req := requirement(models.ReqTypeRequired, years(3))
	matches := []match.RequirementMatchResult{
		{Requirement: req, Evidence: evidence(years(5)), Similarity: 0.9, IsCovered: true},
	}

	amount, reasons := experienceShortfallPenalty(matches, cfg)
	if amount != 0 || len(reasons) != 0 {
		t.Fatalf("expected no penalty when evidence meets requirement, got amount=%f reasons=%v", amount, reasons)
	}
}

func TestMissingRequiredCountExcludesResponsibilityAndBenefitLines(t *testing.T) {
	coveredRequired := requirement(models.ReqTypeRequired, nil)
	uncoveredRequired := requirement(models.ReqTypeRequired, nil)
	uncoveredResponsibility := requirement(models.ReqTypeResponsibility, nil)
	uncoveredBenefit := requirement(models.ReqTypeBenefit, nil)

	matches := []match.RequirementMatchResult{
		{Requirement: coveredRequired, IsCovered: true},
		{Requirement: uncoveredRequired, IsCovered: false},
		{Requirement: uncoveredResponsibility, IsCovered: false},
		{Requirement: uncoveredBenefit, IsCovered: false},
	}

	if got := missingRequiredCount(matches); got != 1 {
		t.Fatalf("expected missing_required_count to count only the one uncovered required requirement, got %d", got)
	}
}

func TestCoverageZeroWhenNoRequirementsOfType(t *testing.T) {
	required, preferred := coverage(nil)
	if required != 0 || preferred != 0 {
		t.Fatalf("expected 0/0 coverage for empty matches, got required=%f preferred=%f", required, preferred)
	}
}

func TestApplyPolicyFiltersSortsAndTruncates(t *testing.T) {
	results := []Result{
		{OverallScore: 90, FitScore: 80, RequiredCoverage: 1},
		{OverallScore: 95, FitScore: 40, RequiredCoverage: 1}, // filtered out by min_fit
		{OverallScore: 70, FitScore: 70, RequiredCoverage: 0.2},
		{OverallScore: 60, FitScore: 65, RequiredCoverage: 0.9},
	}
	minCoverage := 0.5

	out := applyPolicy(results, Policy{MinFit: 50, TopK: 1, MinJDRequiredCoverage: &minCoverage})
	if len(out) != 1 {
		t.Fatalf("expected top_k=1 to truncate to 1 result, got %d", len(out))
	}
	if out[0].OverallScore != 90 {
		t.Fatalf("expected the highest-scoring surviving result (90), got %f", out[0].OverallScore)
	}
}
