package postgres

import (
	"strconv"
	"strings"
)

// vectorLiteral renders an embedding as a pgvector input literal
// ("[0.1,0.2,...]"), the format pgvector's text I/O accepts for both
// inserts and the <=> distance operator. A nil/empty vector renders as
// NULL so is_embedded=false rows never carry a bogus zero vector.
func vectorLiteral(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVectorLiteral parses pgvector's "[0.1,0.2,...]" text representation
// back into a []float32. Returns nil for a NULL column.
func parseVectorLiteral(s *string) []float32 {
	if s == nil {
		return nil
	}
	trimmed := strings.Trim(*s, "[]")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			continue
		}
		out = append(out, float32(f))
	}
	return out
}
