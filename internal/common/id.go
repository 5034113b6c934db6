package common

import "github.com/google/uuid"

// NewID generates a fresh opaque entity identifier. All §3-equivalent
// entities (Job, JobRequirementUnit, StructuredResume, JobMatch, ...) share
// this one ID scheme rather than per-entity prefixed strings.
func NewID() uuid.UUID {
	return uuid.New()
}
