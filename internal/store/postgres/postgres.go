// Package postgres is the durable semantic.Persister backed by pgx.
// Grounded on the teacher's pgEvolvingMemoryStore
// (internal/persistence/databases/evolving_memory_store_postgres.go): same
// Init-creates-table-and-indexes shape, same embedding-as-JSON-bytes and
// metadata-as-JSONB encoding. Unlike the teacher's session-scoped Save
// (delete-then-reinsert the whole session), this store's Save is a
// per-memory upsert, matching semantic.Persister's "Save may be called
// again for an existing id" contract.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"osqr/internal/model"
)

// Store is a Postgres-backed semantic.Persister.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init ensures the semantic_memories table and its lookup indexes exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS semantic_memories (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    content TEXT NOT NULL,
    embedding BYTEA,
    category TEXT NOT NULL,
    source JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL,
    last_accessed_at TIMESTAMPTZ NOT NULL,
    access_count BIGINT NOT NULL DEFAULT 0,
    utility_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS semantic_memories_user_created_idx
    ON semantic_memories(user_id, created_at DESC);
`)
	return err
}

// Save upserts one memory.
func (s *Store) Save(ctx context.Context, m model.SemanticMemory) error {
	embBytes, err := json.Marshal(m.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	sourceBytes, err := json.Marshal(m.Source)
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}
	metaBytes, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO semantic_memories
    (id, user_id, content, embedding, category, source, created_at, last_accessed_at, access_count, utility_score, confidence, metadata)
VALUES
    ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    content          = EXCLUDED.content,
    embedding        = EXCLUDED.embedding,
    category         = EXCLUDED.category,
    source           = EXCLUDED.source,
    last_accessed_at = EXCLUDED.last_accessed_at,
    access_count     = EXCLUDED.access_count,
    utility_score    = EXCLUDED.utility_score,
    confidence       = EXCLUDED.confidence,
    metadata         = EXCLUDED.metadata`,
		m.ID, m.UserID, m.Content, embBytes, string(m.Category), sourceBytes,
		m.CreatedAt, m.LastAccessedAt, m.AccessCount, m.UtilityScore, m.Confidence, metaBytes)
	return err
}

// Delete removes one memory. Deleting a missing id is a no-op.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM semantic_memories WHERE user_id = $1 AND id = $2`, userID, id)
	return err
}

// LoadAll returns every memory for userID, newest first.
func (s *Store) LoadAll(ctx context.Context, userID string) ([]model.SemanticMemory, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, content, embedding, category, source, created_at, last_accessed_at, access_count, utility_score, confidence, metadata
FROM semantic_memories
WHERE user_id = $1
ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.SemanticMemory, 0)
	for rows.Next() {
		var (
			id          string
			content     string
			embBytes    []byte
			category    string
			sourceBytes []byte
			createdAt   time.Time
			accessedAt  time.Time
			accessCount int64
			utility     float64
			confidence  float64
			metaBytes   []byte
		)
		if err := rows.Scan(&id, &content, &embBytes, &category, &sourceBytes, &createdAt, &accessedAt, &accessCount, &utility, &confidence, &metaBytes); err != nil {
			return nil, err
		}

		var emb []float32
		if len(embBytes) > 0 {
			_ = json.Unmarshal(embBytes, &emb)
		}
		var source model.MemorySource
		if len(sourceBytes) > 0 {
			_ = json.Unmarshal(sourceBytes, &source)
		}
		var meta model.MemoryMetadata
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &meta)
		}

		out = append(out, model.SemanticMemory{
			ID:             id,
			UserID:         userID,
			Content:        content,
			Embedding:      emb,
			Category:       model.MemoryCategory(category),
			Source:         source,
			CreatedAt:      createdAt,
			LastAccessedAt: accessedAt,
			AccessCount:    accessCount,
			UtilityScore:   utility,
			Confidence:     confidence,
			Metadata:       meta,
		})
	}
	return out, rows.Err()
}
