package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/tradecouncil/tradecouncil/internal/errs"
)

// SessionStatus represents the lifecycle state of an analysis session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCanceled  SessionStatus = "canceled"
)

// Terminal reports whether the status is absorbing.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Decision is the final recommendation of a completed session.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionHold Decision = "HOLD"
	DecisionSell Decision = "SELL"
)

// AnalysisSession is one end-to-end run for a (user, ticker, date) triple.
type AnalysisSession struct {
	SessionID        uuid.UUID       `json:"session_id"`
	UserID           *uuid.UUID      `json:"user_id,omitempty"`
	OwnerUsername    string          `json:"owner_username"`
	Ticker           string          `json:"ticker"`
	AnalysisDate     time.Time       `json:"analysis_date"`
	Status           SessionStatus   `json:"status"`
	FinalDecision    *Decision       `json:"final_decision"`
	Confidence       *float64        `json:"confidence"`
	ExecutionSeconds *float64        `json:"execution_seconds,omitempty"`
	ConfigSnapshot   json.RawMessage `json:"config_snapshot,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
}

// SessionSummary is the list-endpoint projection of a session.
type SessionSummary struct {
	SessionID     uuid.UUID     `json:"session_id"`
	Ticker        string        `json:"ticker"`
	AnalysisDate  time.Time     `json:"analysis_date"`
	Status        SessionStatus `json:"status"`
	FinalDecision *Decision     `json:"final_decision"`
	Confidence    *float64      `json:"confidence"`
	CompletedAt   *time.Time    `json:"completed_at"`
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Owner     string
	Ticker    string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

// FullReport bundles a session with its sections and executions.
type FullReport struct {
	Session    *AnalysisSession `json:"session"`
	Sections   []*ReportSection `json:"sections"`
	Executions []*AgentExecution `json:"executions"`
}

// CreateSession atomically inserts a new running session and returns its id.
func (db *DB) CreateSession(ctx context.Context, owner string, userID *uuid.UUID, ticker string, analysisDate time.Time, config json.RawMessage) (uuid.UUID, error) {
	id := uuid.New()
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}

	query := `
		INSERT INTO analysis_sessions (
			session_id, user_id, owner_username, ticker, analysis_date,
			status, config_snapshot, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`

	_, err := db.pool.Exec(ctx, query, id, userID, owner, ticker, analysisDate, StatusRunning, config)
	if err != nil {
		log.Error().Err(err).Str("ticker", ticker).Msg("Failed to create analysis session")
		return uuid.Nil, fmt.Errorf("failed to create analysis session: %w", err)
	}

	log.Info().
		Str("session_id", id.String()).
		Str("owner", owner).
		Str("ticker", ticker).
		Msg("Analysis session created")

	return id, nil
}

// GetSession retrieves a session by id.
func (db *DB) GetSession(ctx context.Context, sessionID uuid.UUID) (*AnalysisSession, error) {
	query := `
		SELECT session_id, user_id, owner_username, ticker, analysis_date,
		       status, final_decision, confidence, execution_seconds,
		       config_snapshot, created_at, completed_at
		FROM analysis_sessions
		WHERE session_id = $1
	`

	var s AnalysisSession
	err := db.pool.QueryRow(ctx, query, sessionID).Scan(
		&s.SessionID,
		&s.UserID,
		&s.OwnerUsername,
		&s.Ticker,
		&s.AnalysisDate,
		&s.Status,
		&s.FinalDecision,
		&s.Confidence,
		&s.ExecutionSeconds,
		&s.ConfigSnapshot,
		&s.CreatedAt,
		&s.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

// FinalizeSession moves a running session to a terminal status. It rejects
// any transition away from a terminal status with InvalidTransition, so
// finalize can never succeed twice for the same session.
func (db *DB) FinalizeSession(ctx context.Context, sessionID uuid.UUID, status SessionStatus, decision *Decision, confidence *float64, executionSeconds *float64) error {
	if !status.Terminal() {
		return errs.Newf(errs.KindInvalidArgument, "finalize requires a terminal status, got %q", status)
	}

	query := `
		UPDATE analysis_sessions
		SET status = $1,
		    final_decision = $2,
		    confidence = $3,
		    execution_seconds = $4,
		    completed_at = NOW()
		WHERE session_id = $5
		  AND status = 'running'
	`

	result, err := db.pool.Exec(ctx, query, status, decision, confidence, executionSeconds, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to finalize session")
		return fmt.Errorf("failed to finalize session: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Either missing or already terminal; disambiguate for the caller.
		if _, err := db.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return errs.Newf(errs.KindInvalidTransition, "session %s is not running", sessionID)
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("status", string(status)).
		Msg("Analysis session finalized")

	return nil
}

// ListSessions returns session summaries ordered by analysis_date desc,
// created_at desc.
func (db *DB) ListSessions(ctx context.Context, filter SessionFilter) ([]*SessionSummary, error) {
	query := `
		SELECT session_id, ticker, analysis_date, status,
		       final_decision, confidence, completed_at
		FROM analysis_sessions
		WHERE ($1 = '' OR owner_username = $1)
		  AND ($2 = '' OR ticker = $2)
		  AND ($3::date IS NULL OR analysis_date >= $3)
		  AND ($4::date IS NULL OR analysis_date <= $4)
		ORDER BY analysis_date DESC, created_at DESC
		LIMIT $5
	`

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query, filter.Owner, filter.Ticker, filter.StartDate, filter.EndDate, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.SessionID, &s.Ticker, &s.AnalysisDate, &s.Status, &s.FinalDecision, &s.Confidence, &s.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		summaries = append(summaries, &s)
	}
	return summaries, rows.Err()
}

// GetFullReport returns the session with its sections (created_at asc) and
// agent executions.
func (db *DB) GetFullReport(ctx context.Context, sessionID uuid.UUID) (*FullReport, error) {
	session, err := db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sections, err := db.ListSections(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	executions, err := db.ListExecutions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &FullReport{Session: session, Sections: sections, Executions: executions}, nil
}

// DeleteSession removes a session owned by requestingOwner; sections and
// executions cascade.
func (db *DB) DeleteSession(ctx context.Context, sessionID uuid.UUID, requestingOwner string) error {
	session, err := db.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.OwnerUsername != requestingOwner {
		return errs.Newf(errs.KindForbidden, "session %s is not owned by %s", sessionID, requestingOwner)
	}

	_, err = db.pool.Exec(ctx, "DELETE FROM analysis_sessions WHERE session_id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("owner", requestingOwner).
		Msg("Analysis session deleted")

	return nil
}
