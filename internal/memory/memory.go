// Package memory provides embedding-indexed recall of past
// situation→recommendation pairs, backed by pgvector.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
)

// Embedder turns text into a fixed-dimension vector. The provider is
// injected; the store never assumes a particular backend.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Entry is one stored situation→recommendation pair.
type Entry struct {
	ID             uuid.UUID `json:"id"`
	Situation      string    `json:"situation"`
	Recommendation string    `json:"recommendation"`
	CreatedAt      time.Time `json:"created_at"`
}

// Match is a recalled entry with its embedding distance (cosine, ascending
// is closer).
type Match struct {
	Recommendation string  `json:"recommendation"`
	Situation      string  `json:"situation"`
	Distance       float64 `json:"distance"`
}

// Store persists and recalls memory entries for one named collection.
type Store struct {
	pool       *pgxpool.Pool
	embedder   Embedder
	collection string
}

// NewStore creates a memory store over the given pool and embedder.
func NewStore(pool *pgxpool.Pool, embedder Embedder, collection string) *Store {
	if collection == "" {
		collection = "default"
	}
	return &Store{pool: pool, embedder: embedder, collection: collection}
}

// Record stores a situation and the recommendation that followed it.
// Entries are immutable after insert.
func (s *Store) Record(ctx context.Context, situation, recommendation string) error {
	embedding, err := s.embedder.Embed(ctx, situation)
	if err != nil {
		return fmt.Errorf("failed to embed situation: %w", err)
	}

	query := `
		INSERT INTO memory_entries (id, collection, situation, recommendation, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`

	_, err = s.pool.Exec(ctx, query, uuid.New(), s.collection, situation, recommendation, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to record memory: %w", err)
	}

	log.Debug().
		Str("collection", s.collection).
		Int("situation_len", len(situation)).
		Msg("Recorded memory entry")

	return nil
}

// Recall returns up to n past recommendations nearest to the situation,
// sorted by ascending embedding distance. An empty store returns an empty
// slice, never an error.
func (s *Store) Recall(ctx context.Context, situation string, n int) ([]Match, error) {
	if n <= 0 {
		return []Match{}, nil
	}

	embedding, err := s.embedder.Embed(ctx, situation)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	query := `
		SELECT situation, recommendation, embedding <=> $1 AS distance
		FROM memory_entries
		WHERE collection = $2 AND embedding IS NOT NULL
		ORDER BY distance ASC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), s.collection, n)
	if err != nil {
		return nil, fmt.Errorf("failed to recall memories: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, n)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Situation, &m.Recommendation, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan memory match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
