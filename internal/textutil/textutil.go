// Package textutil holds small text-processing helpers shared across the
// extraction and resume-profiling stages, so the same rules apply wherever
// the pipeline derives structure from free text.
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// yearsPattern matches phrases like "5 years", "3+ yrs", "10  year" the way
// the original core/utils.py years_extractor does.
var yearsPattern = regexp.MustCompile(`(?i)(\d+)\+?\s*(years?|yrs?)`)

// ExtractMinYears returns the smallest number-of-years figure mentioned in
// text, or false if none is found. Used by both requirement extraction
// (§4.4) and resume evidence derivation (§4.7).
func ExtractMinYears(text string) (int, bool) {
	matches := yearsPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, false
	}
	min := -1
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if min == -1 || n < min {
			min = n
		}
	}
	if min == -1 {
		return 0, false
	}
	return min, true
}

// CanonicalFingerprint hashes the lowercased (company, title, location)
// triple, per §3/§4.3 ("canonical_fingerprint = hash(lower(company)|lower(title)|lower(location))").
func CanonicalFingerprint(company, title, location string) string {
	return hashJoin(strings.ToLower(company), strings.ToLower(title), strings.ToLower(location))
}

// ContentHash hashes the fields whose change should trigger re-extraction
// and match invalidation, per §4.3 ("content_hash over (description, skills,
// title, company)").
func ContentHash(description string, skills []string, title, company string) string {
	return hashJoin(description, strings.Join(skills, ","), title, company)
}

// ResumeFingerprint hashes raw resume text, used to short-circuit
// re-normalization when an identical resume is submitted again (§4.7).
func ResumeFingerprint(rawText string) string {
	return hashJoin(rawText)
}

func hashJoin(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}
