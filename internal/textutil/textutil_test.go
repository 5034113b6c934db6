package textutil

import "testing"

func TestCanonicalFingerprintDeterministicAndCaseInsensitive(t *testing.T) {
	a := CanonicalFingerprint("Acme Corp", "Senior Engineer", "Remote")
	b := CanonicalFingerprint("acme corp", "senior engineer", "remote")
	if a != b {
		t.Fatalf("fingerprint should be case-insensitive: %q != %q", a, b)
	}

	again := CanonicalFingerprint("Acme Corp", "Senior Engineer", "Remote")
	if a != again {
		t.Fatalf("fingerprint must be deterministic across calls")
	}
}

func TestCanonicalFingerprintDistinguishesFields(t *testing.T) {
	a := CanonicalFingerprint("Acme", "Engineer", "Remote")
	b := CanonicalFingerprint("Acme", "Engineer", "Onsite")
	if a == b {
		t.Fatalf("fingerprint must differ when location differs")
	}
}

func TestContentHashChangesOnlyWithTrackedFields(t *testing.T) {
	base := ContentHash("a great job", []string{"go", "sql"}, "Engineer", "Acme")

	sameInputs := ContentHash("a great job", []string{"go", "sql"}, "Engineer", "Acme")
	if base != sameInputs {
		t.Fatalf("content hash must be stable for identical inputs")
	}

	changedDescription := ContentHash("a different job", []string{"go", "sql"}, "Engineer", "Acme")
	if base == changedDescription {
		t.Fatalf("content hash must change when description changes")
	}

	changedSkills := ContentHash("a great job", []string{"go", "rust"}, "Engineer", "Acme")
	if base == changedSkills {
		t.Fatalf("content hash must change when skills change")
	}

	changedTitle := ContentHash("a great job", []string{"go", "sql"}, "Staff Engineer", "Acme")
	if base == changedTitle {
		t.Fatalf("content hash must change when title changes")
	}

	changedCompany := ContentHash("a great job", []string{"go", "sql"}, "Engineer", "Globex")
	if base == changedCompany {
		t.Fatalf("content hash must change when company changes")
	}
}

func TestResumeFingerprintStableForIdenticalText(t *testing.T) {
	text := "Jane Doe\nSenior Engineer with 8 years of experience."
	a := ResumeFingerprint(text)
	b := ResumeFingerprint(text)
	if a != b {
		t.Fatalf("resume fingerprint must be stable for identical text")
	}
	if ResumeFingerprint(text+" ") == a {
		t.Fatalf("resume fingerprint must change when text changes")
	}
}

func TestExtractMinYearsPicksSmallestMention(t *testing.T) {
	years, ok := ExtractMinYears("Requires 5+ years of Go and at least 3 years of SQL")
	if !ok {
		t.Fatalf("expected a years match")
	}
	if years != 3 {
		t.Fatalf("expected smallest mentioned years (3), got %d", years)
	}
}

func TestExtractMinYearsNoMatch(t *testing.T) {
	if _, ok := ExtractMinYears("No specific experience requirement"); ok {
		t.Fatalf("expected no match")
	}
}
