package ingest

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/repository/memory"
)

func rawJob(title, description string) RawJob {
	return RawJob{
		Title:       title,
		Company:     "Acme Corp",
		Location:    []byte(`"Remote"`),
		URL:         "https://jobs.example.com/1",
		Site:        "indeed",
		Description: description,
		Skills:      []string{"go", "postgres"},
	}
}

func TestIngestIsIdempotentForUnchangedPosting(t *testing.T) {
	jobs := memory.NewJobStore(nil)
	in := New(jobs, arbor.NewLogger())
	ctx := context.Background()

	first, err := in.Ingest(ctx, rawJob("Senior Engineer", "build great things"))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	second, err := in.Ingest(ctx, rawJob("Senior Engineer", "build great things"))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("re-ingesting an unchanged posting must upsert the same job, got %s != %s", first.ID, second.ID)
	}
	if first.ContentHash != second.ContentHash {
		t.Fatalf("content hash must stay stable when nothing tracked changed")
	}
	if second.LastSeenAt.Before(first.FirstSeenAt) {
		t.Fatalf("last_seen_at should not regress")
	}
}

func TestIngestChangedDescriptionResetsExtractionState(t *testing.T) {
	jobs := memory.NewJobStore(nil)
	in := New(jobs, arbor.NewLogger())
	ctx := context.Background()

	first, err := in.Ingest(ctx, rawJob("Senior Engineer", "build great things"))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// Simulate extraction/embedding having completed, per the stage
	// transitions MarkExtracted/MarkEmbedded would apply.
	stored, err := jobs.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if err := jobs.MarkExtracted(ctx, stored, nil); err != nil {
		t.Fatalf("mark extracted: %v", err)
	}
	if err := jobs.MarkEmbedded(ctx, stored.ID, []float32{0.1, 0.2}); err != nil {
		t.Fatalf("mark embedded: %v", err)
	}

	updated, err := in.Ingest(ctx, rawJob("Senior Engineer", "an entirely different description"))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if updated.ID != first.ID {
		t.Fatalf("same fingerprint must still resolve to the same job id")
	}
	if updated.ContentHash == first.ContentHash {
		t.Fatalf("content hash must change when description changes")
	}
	if updated.IsExtracted || updated.IsEmbedded {
		t.Fatalf("a changed content hash must invalidate prior extraction/embedding state")
	}
}

func TestNormalizeLocationHandlesShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"plain string", `"Remote"`, "Remote"},
		{"city and country", `{"city":"Austin","country":"USA"}`, "Austin, USA"},
		{"city only", `{"city":"Austin","country":""}`, "Austin"},
		{"list", `["Austin, TX","Remote"]`, "Austin, TX"},
		{"empty", ``, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := NormalizeLocation([]byte(c.raw))
			if got != c.want {
				t.Fatalf("NormalizeLocation(%s) = %q, want %q", c.raw, got, c.want)
			}
		})
	}
}
