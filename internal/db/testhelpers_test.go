package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to the database named by TEST_DATABASE_URL, applies
// migrations, and returns a cleanup that truncates all tables. Tests are
// skipped when the variable is unset so the unit suite stays hermetic.
func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)

	database := NewFromPool(pool)
	require.NoError(t, database.Migrate(ctx))

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `TRUNCATE users, user_preferences, analysis_sessions, report_sections, agent_executions, memory_entries CASCADE`)
		pool.Close()
	}
	return database, cleanup
}
