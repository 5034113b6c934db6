package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// VectorStore is the pgx-backed interfaces.VectorStore, using pgvector's
// <=> cosine-distance operator against jobs.summary_embedding (§4.8 stage 1).
type VectorStore struct {
	db *DB
}

// TopKJobsBySummary returns the k job IDs whose summary embedding is
// nearest query by cosine distance, optionally restricted to remote jobs.
func (v *VectorStore) TopKJobsBySummary(ctx context.Context, query []float32, k int, remoteOnly bool) ([]uuid.UUID, error) {
	sql := `SELECT id FROM jobs WHERE is_embedded = true`
	if remoteOnly {
		sql += ` AND is_remote = true`
	}
	sql += ` ORDER BY summary_embedding <=> $1 LIMIT $2`

	rows, err := v.db.pool.Query(ctx, sql, vectorLiteral(query), k)
	if err != nil {
		return nil, fmt.Errorf("top-k summary query: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan top-k job id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
