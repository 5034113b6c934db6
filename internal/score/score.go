// Package score implements stage 2 of the matcher, §4.9: coverage, the
// penalized Fit score, the facet-weighted Want score, the Overall score, and
// the ResultPolicy filter/sort/truncate pipeline.
package score

import (
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jobmatch-ai/pipeline/internal/match"
	"github.com/jobmatch-ai/pipeline/internal/models"
)

// Config mirrors config.ScorerConfig; kept as a separate, package-local type
// so internal/score never imports internal/config.
type Config struct {
	WeightRequired  float64
	WeightPreferred float64
	WeightSimilarity float64
	FitWeight       float64
	WantWeight      float64
	FacetWeights    map[models.FacetKey]float64

	PenaltyMissingRequired                float64
	PenaltySeniorityMismatch              float64
	PenaltyCompensationMismatch           float64
	PenaltyExperienceShortfallPerYear     float64
	PenaltyExperienceShortfallMaxMultiple float64

	WantsRemote     bool
	MinSalary       *float64
	TargetSeniority string
}

// Policy mirrors config.ResultPolicyConfig.
type Policy struct {
	MinFit                float64
	TopK                  int
	MinJDRequiredCoverage *float64
}

// Result is one fully scored job, ready for persistence (internal/persistence
// maps this onto models.JobMatch + models.JobMatchRequirement).
type Result struct {
	Preliminary       match.Preliminary
	RequiredCoverage  float64
	PreferredCoverage float64
	BaseScore         float64
	PenaltyTotal      float64
	FitScore          float64
	WantScore         *float64
	OverallScore      float64
	Penalties         []models.PenaltyDetail
}

// Score computes coverage, Fit, Want, and Overall for every preliminary
// match, then applies the ResultPolicy (min_fit -> min_jd_required_coverage
// -> sort by overall desc -> top_k truncate). facetsByJob supplies each
// job's facet embeddings, keyed by job ID; a job absent from the map scores
// an undefined want_score.
func Score(prelims []match.Preliminary, cfg Config, policy Policy, wantEmbeddings [][]float32, facetsByJob map[uuid.UUID][]models.JobFacetEmbedding) []Result {
	results := make([]Result, 0, len(prelims))
	for _, p := range prelims {
		results = append(results, scoreOne(p, cfg, wantEmbeddings, facetsByJob[p.Job.ID]))
	}
	return applyPolicy(results, policy)
}

func scoreOne(p match.Preliminary, cfg Config, wantEmbeddings [][]float32, facets []models.JobFacetEmbedding) Result {
	requiredCoverage, preferredCoverage := coverage(p.RequirementMatches)

	base, fit, penaltyTotal, penalties := fitScore(p, cfg, requiredCoverage, preferredCoverage)

	wantScore := wantScore(wantEmbeddings, facets, cfg.FacetWeights)

	overall := fit
	if wantScore != nil {
		overall = cfg.FitWeight*fit + cfg.WantWeight*(*wantScore)
	}
	if overall > 100 {
		overall = 100
	}

	return Result{
		Preliminary:       p,
		RequiredCoverage:  requiredCoverage,
		PreferredCoverage: preferredCoverage,
		BaseScore:         base,
		PenaltyTotal:      penaltyTotal,
		FitScore:          fit,
		WantScore:         wantScore,
		OverallScore:      overall,
		Penalties:         penalties,
	}
}

// missingRequiredCount is §4.9's missing_required_count: uncovered
// requirements of type "required" only. responsibility/benefit lines are
// excluded, matching the original scorer's
// required_total - required_covered (core/scorer/penalties.py); counted
// directly off RequirementMatches rather than trusting
// match.Preliminary.MissingRequirements' own construction.
func missingRequiredCount(matches []match.RequirementMatchResult) int {
	var n int
	for _, m := range matches {
		if m.Requirement.ReqType == models.ReqTypeRequired && !m.IsCovered {
			n++
		}
	}
	return n
}

// coverage returns (required_coverage, preferred_coverage); each is 0 when
// its denominator is 0 (§4.9).
func coverage(matches []match.RequirementMatchResult) (required, preferred float64) {
	var reqTotal, reqCovered, prefTotal, prefCovered int
	for _, m := range matches {
		switch m.Requirement.ReqType {
		case models.ReqTypeRequired:
			reqTotal++
			if m.IsCovered {
				reqCovered++
			}
		case models.ReqTypePreferred:
			prefTotal++
			if m.IsCovered {
				prefCovered++
			}
		}
	}
	if reqTotal > 0 {
		required = float64(reqCovered) / float64(reqTotal)
	}
	if prefTotal > 0 {
		preferred = float64(prefCovered) / float64(prefTotal)
	}
	return required, preferred
}

// fitScore computes the blended base score, the penalized Fit score, the
// total penalty amount, and the explainability detail for each applied
// penalty (§4.9). base_score and penalties are persisted alongside
// fit_score so a stored JobMatch can be audited without recomputing.
func fitScore(p match.Preliminary, cfg Config, requiredCoverage, preferredCoverage float64) (base, fit float64, penaltyTotal float64, penalties []models.PenaltyDetail) {
	blended := cfg.WeightRequired*requiredCoverage + cfg.WeightPreferred*preferredCoverage + cfg.WeightSimilarity*p.JobSimilarity
	base = clamp(0, 100, 100*blended)

	var total float64

	if missing := missingRequiredCount(p.RequirementMatches); missing > 0 {
		amount := float64(missing) * cfg.PenaltyMissingRequired
		total += amount
		penalties = append(penalties, models.PenaltyDetail{
			Type:   models.PenaltyMissingRequired,
			Amount: amount,
			Reason: "missing required qualifications",
		})
	}

	if amount, ok := seniorityPenalty(p.Job.JobLevel, cfg.TargetSeniority, cfg.PenaltySeniorityMismatch); ok {
		total += amount
		penalties = append(penalties, models.PenaltyDetail{
			Type:   models.PenaltySeniorityMismatch,
			Amount: amount,
			Reason: "job level conflicts with target seniority",
		})
	}

	if amount, ok := compensationPenalty(p.Job.SalaryMax, cfg.MinSalary, cfg.PenaltyCompensationMismatch); ok {
		total += amount
		penalties = append(penalties, models.PenaltyDetail{
			Type:   models.PenaltyCompensationMismatch,
			Amount: amount,
			Reason: "job salary max is below minimum salary",
		})
	}

	if amount, reasons := experienceShortfallPenalty(p.RequirementMatches, cfg); amount > 0 {
		total += amount
		penalties = append(penalties, models.PenaltyDetail{
			Type:    models.PenaltyExperienceShortfall,
			Amount:  amount,
			Reason:  "evidence falls short of a requirement's minimum years",
			Details: strings.Join(reasons, "; "),
		})
	}

	if cfg.WantsRemote && !p.Job.IsRemote {
		total += cfg.PenaltyCompensationMismatch
		penalties = append(penalties, models.PenaltyDetail{
			Type:   models.PenaltyRemoteMismatch,
			Amount: cfg.PenaltyCompensationMismatch,
			Reason: "candidate wants remote but job is not remote",
		})
	}

	fit = clamp(0, 100, 100*blended-total)
	return base, fit, total, penalties
}

func seniorityPenalty(jobLevel *string, targetSeniority string, penalty float64) (float64, bool) {
	if jobLevel == nil || targetSeniority == "" {
		return 0, false
	}
	level := strings.ToLower(*jobLevel)
	target := strings.ToLower(targetSeniority)

	switch target {
	case "junior":
		if strings.Contains(level, "senior") || strings.Contains(level, "lead") {
			return penalty, true
		}
	case "senior":
		if strings.Contains(level, "junior") || strings.Contains(level, "entry") {
			return penalty, true
		}
	}
	return 0, false
}

func compensationPenalty(salaryMax, minSalary *float64, penalty float64) (float64, bool) {
	if minSalary == nil || salaryMax == nil {
		return 0, false
	}
	if *salaryMax < *minSalary {
		return penalty, true
	}
	return 0, false
}

// experienceShortfallPenalty charges penalty_experience_shortfall_per_year
// per year of shortfall, capped at max_multiple per requirement, applied at
// most once per requirement via a dedup set keyed by requirement ID.
func experienceShortfallPenalty(matches []match.RequirementMatchResult, cfg Config) (float64, []string) {
	penalized := make(map[string]struct{})
	var total float64
	var reasons []string

	maxPerRequirement := cfg.PenaltyExperienceShortfallPerYear * cfg.PenaltyExperienceShortfallMaxMultiple

	for _, m := range matches {
		if !m.IsCovered || m.Requirement.MinYears == nil || m.Evidence == nil {
			continue
		}
		key := m.Requirement.ID.String()
		if _, seen := penalized[key]; seen {
			continue
		}

		evidenceYears := 0
		if m.Evidence.YearsAtThisRole != nil {
			evidenceYears = *m.Evidence.YearsAtThisRole
		}
		shortfall := *m.Requirement.MinYears - evidenceYears
		if shortfall <= 0 {
			continue
		}

		amount := float64(shortfall) * cfg.PenaltyExperienceShortfallPerYear
		if amount > maxPerRequirement {
			amount = maxPerRequirement
		}
		total += amount
		penalized[key] = struct{}{}
		reasons = append(reasons, m.Requirement.Text)
	}

	return total, reasons
}

// wantScore computes the facet-weighted alignment score, §4.9. All matrix
// math runs in float32 (the numeric-determinism requirement); nil if either
// input is empty, meaning want_score is undefined for this job.
func wantScore(wantEmbeddings [][]float32, facets []models.JobFacetEmbedding, facetWeights map[models.FacetKey]float64) *float64 {
	if len(wantEmbeddings) == 0 || len(facets) == 0 {
		return nil
	}

	facetMean := make(map[models.FacetKey]float32, len(facets))
	var aggregateSum float32

	for _, want := range wantEmbeddings {
		var best float32 = -1
		for _, f := range facets {
			s := clampF32(0, 1, (cosine32(want, f.Embedding)+1)/2)
			facetMean[f.FacetKey] += s
			if s > best {
				best = s
			}
		}
		aggregateSum += best
	}
	n := float32(len(wantEmbeddings))
	aggregateSim := aggregateSum / n
	for k := range facetMean {
		facetMean[k] /= n
	}

	var weightedSum, weightSum float64
	for _, f := range facets {
		w := facetWeights[f.FacetKey]
		weightedSum += float64(facetMean[f.FacetKey]) * w
		weightSum += w
	}

	var weighted float64
	if weightSum == 0 {
		weighted = float64(aggregateSim)
	} else {
		weighted = weightedSum / weightSum
	}

	score := weighted * 100
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return &score
}

func cosine32(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrt32(normA) * sqrt32(normB))
}

func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// applyPolicy filters by min_fit, then by min_jd_required_coverage if set,
// sorts by overall_score descending, and truncates to top_k (§4.9).
func applyPolicy(results []Result, policy Policy) []Result {
	filtered := results[:0:0]
	for _, r := range results {
		if r.FitScore < policy.MinFit {
			continue
		}
		if policy.MinJDRequiredCoverage != nil && r.RequiredCoverage < *policy.MinJDRequiredCoverage {
			continue
		}
		filtered = append(filtered, r)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].OverallScore > filtered[j].OverallScore
	})

	if policy.TopK > 0 && len(filtered) > policy.TopK {
		filtered = filtered[:policy.TopK]
	}
	return filtered
}

func clamp(lo, hi, v float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF32(lo, hi, v float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
