package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SectionType enumerates the report sections an agent step may produce.
type SectionType string

const (
	SectionMarketReport       SectionType = "market_report"
	SectionSentimentReport    SectionType = "sentiment_report"
	SectionNewsReport         SectionType = "news_report"
	SectionFundamentalsReport SectionType = "fundamentals_report"
	SectionBenGrahamReport    SectionType = "ben_graham_report"
	SectionWarrenBuffettReport SectionType = "warren_buffett_report"
	SectionInvestmentPlan     SectionType = "investment_plan"
	SectionTraderPlan         SectionType = "trader_investment_plan"
	SectionFinalTradeDecision SectionType = "final_trade_decision"
)

// SectionTypes lists every known section type in pipeline order.
var SectionTypes = []SectionType{
	SectionMarketReport,
	SectionSentimentReport,
	SectionNewsReport,
	SectionFundamentalsReport,
	SectionBenGrahamReport,
	SectionWarrenBuffettReport,
	SectionInvestmentPlan,
	SectionTraderPlan,
	SectionFinalTradeDecision,
}

// ReportSection is one agent-produced markdown report.
type ReportSection struct {
	ID          uuid.UUID   `json:"id"`
	SessionID   uuid.UUID   `json:"session_id"`
	SectionType SectionType `json:"section_type"`
	AgentName   string      `json:"agent_name"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AppendSection upserts one report section by (session_id, section_type).
// A later write for the same type overwrites content and refreshes
// created_at, which keeps sections sorted in write order.
func (db *DB) AppendSection(ctx context.Context, sessionID uuid.UUID, sectionType SectionType, agentName, content string) error {
	query := `
		INSERT INTO report_sections (id, session_id, section_type, agent_name, content, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (session_id, section_type) DO UPDATE SET
			agent_name = EXCLUDED.agent_name,
			content = EXCLUDED.content,
			created_at = EXCLUDED.created_at
	`

	_, err := db.pool.Exec(ctx, query, uuid.New(), sessionID, sectionType, agentName, content)
	if err != nil {
		log.Error().
			Err(err).
			Str("session_id", sessionID.String()).
			Str("section_type", string(sectionType)).
			Msg("Failed to append report section")
		return fmt.Errorf("failed to append report section: %w", err)
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Str("section_type", string(sectionType)).
		Str("agent", agentName).
		Int("content_len", len(content)).
		Msg("Report section written")

	return nil
}

// ListSections returns a session's sections sorted by created_at asc.
func (db *DB) ListSections(ctx context.Context, sessionID uuid.UUID) ([]*ReportSection, error) {
	query := `
		SELECT id, session_id, section_type, agent_name, content, created_at
		FROM report_sections
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	rows, err := db.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var sections []*ReportSection
	for rows.Next() {
		var s ReportSection
		if err := rows.Scan(&s.ID, &s.SessionID, &s.SectionType, &s.AgentName, &s.Content, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, &s)
	}
	return sections, rows.Err()
}
