package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AgentStatus represents the execution state of one agent within a session.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// AgentExecution is the per-agent timing and status record of a session.
type AgentExecution struct {
	ID               uuid.UUID   `json:"id"`
	SessionID        uuid.UUID   `json:"session_id"`
	AgentName        string      `json:"agent_name"`
	Status           AgentStatus `json:"status"`
	StartedAt        *time.Time  `json:"started_at"`
	CompletedAt      *time.Time  `json:"completed_at"`
	ExecutionSeconds *float64    `json:"execution_seconds"`
	ErrorMessage     *string     `json:"error_message,omitempty"`
}

// UpsertAgentStatus writes the single row per (session, agent), recomputing
// execution_seconds whenever both timestamps are present.
func (db *DB) UpsertAgentStatus(ctx context.Context, sessionID uuid.UUID, agentName string, status AgentStatus, startedAt, completedAt *time.Time, errorMessage *string) error {
	query := `
		INSERT INTO agent_executions (
			id, session_id, agent_name, status, started_at, completed_at,
			execution_seconds, error_message
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			EXTRACT(EPOCH FROM ($6::timestamptz - $5::timestamptz)), $7
		)
		ON CONFLICT (session_id, agent_name) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = COALESCE(EXCLUDED.started_at, agent_executions.started_at),
			completed_at = COALESCE(EXCLUDED.completed_at, agent_executions.completed_at),
			execution_seconds = EXTRACT(EPOCH FROM (
				COALESCE(EXCLUDED.completed_at, agent_executions.completed_at) -
				COALESCE(EXCLUDED.started_at, agent_executions.started_at))),
			error_message = COALESCE(EXCLUDED.error_message, agent_executions.error_message)
	`

	_, err := db.pool.Exec(ctx, query, uuid.New(), sessionID, agentName, status, startedAt, completedAt, errorMessage)
	if err != nil {
		log.Error().
			Err(err).
			Str("session_id", sessionID.String()).
			Str("agent", agentName).
			Str("status", string(status)).
			Msg("Failed to upsert agent status")
		return fmt.Errorf("failed to upsert agent status: %w", err)
	}

	return nil
}

// ListExecutions returns the agent execution records of a session.
func (db *DB) ListExecutions(ctx context.Context, sessionID uuid.UUID) ([]*AgentExecution, error) {
	query := `
		SELECT id, session_id, agent_name, status, started_at, completed_at,
		       execution_seconds, error_message
		FROM agent_executions
		WHERE session_id = $1
		ORDER BY started_at ASC NULLS LAST
	`

	rows, err := db.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*AgentExecution
	for rows.Next() {
		var e AgentExecution
		if err := rows.Scan(&e.ID, &e.SessionID, &e.AgentName, &e.Status, &e.StartedAt, &e.CompletedAt, &e.ExecutionSeconds, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, &e)
	}
	return executions, rows.Err()
}
