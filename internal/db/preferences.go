package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserPreference is one (user, key) setting; last write wins.
type UserPreference struct {
	UserID    uuid.UUID       `json:"user_id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Category  *string         `json:"category,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpsertPreference writes a preference with last-write-wins semantics.
func (db *DB) UpsertPreference(ctx context.Context, userID uuid.UUID, key string, value json.RawMessage, category *string) error {
	query := `
		INSERT INTO user_preferences (user_id, key, value, category, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			category = EXCLUDED.category,
			updated_at = EXCLUDED.updated_at
	`

	_, err := db.pool.Exec(ctx, query, userID, key, value, category)
	if err != nil {
		return fmt.Errorf("failed to upsert preference %q: %w", key, err)
	}
	return nil
}

// ListPreferences returns a user's preferences, optionally filtered by
// category.
func (db *DB) ListPreferences(ctx context.Context, userID uuid.UUID, category string) ([]*UserPreference, error) {
	query := `
		SELECT user_id, key, value, category, updated_at
		FROM user_preferences
		WHERE user_id = $1
		  AND ($2 = '' OR category = $2)
		ORDER BY key ASC
	`

	rows, err := db.pool.Query(ctx, query, userID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*UserPreference
	for rows.Next() {
		var p UserPreference
		if err := rows.Scan(&p.UserID, &p.Key, &p.Value, &p.Category, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs = append(prefs, &p)
	}
	return prefs, rows.Err()
}
