// Package schemas embeds the JSON Schemas that bound every LLM structured
// extraction call (requirement, facet, resume), one file per extraction
// kind, versioned the way generate_openai_schema.py produces them upstream.
package schemas

import (
	"embed"
)

//go:embed *.json
var fs embed.FS

// Embedded schema filenames, one per extraction kind.
const (
	Requirement = "requirement.json"
	Facet       = "facet.json"
	Resume      = "resume.json"
)

// GetSchema returns the content of a schema file by name. The returned
// bytes are the full `{name, strict, schema}` envelope; callers unwrap it
// with internal/llmclient before sending it as a response_format.
func GetSchema(name string) ([]byte, error) {
	return fs.ReadFile(name)
}
