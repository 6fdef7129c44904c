package agent

import (
	"strings"

	"github.com/tradecouncil/tradecouncil/internal/db"
)

// Role identifies one agent in the pipeline.
type Role string

const (
	RoleMarketAnalyst       Role = "market_analyst"
	RoleSocialAnalyst       Role = "social_analyst"
	RoleNewsAnalyst         Role = "news_analyst"
	RoleFundamentalsAnalyst Role = "fundamentals_analyst"
	RoleBenGraham           Role = "ben_graham"
	RoleWarrenBuffett       Role = "warren_buffett"
	RoleBullResearcher      Role = "bull_researcher"
	RoleBearResearcher      Role = "bear_researcher"
	RoleResearchManager     Role = "research_manager"
	RoleTrader              Role = "trader"
	RoleRiskyAnalyst        Role = "risky_analyst"
	RoleSafeAnalyst         Role = "safe_analyst"
	RoleNeutralAnalyst      Role = "neutral_analyst"
	RoleRiskManager         Role = "risk_manager"
)

// Section returns the report section this role writes, or "" for debate
// roles whose output goes into debate histories instead.
func (r Role) Section() db.SectionType {
	switch r {
	case RoleMarketAnalyst:
		return db.SectionMarketReport
	case RoleSocialAnalyst:
		return db.SectionSentimentReport
	case RoleNewsAnalyst:
		return db.SectionNewsReport
	case RoleFundamentalsAnalyst:
		return db.SectionFundamentalsReport
	case RoleBenGraham:
		return db.SectionBenGrahamReport
	case RoleWarrenBuffett:
		return db.SectionWarrenBuffettReport
	case RoleResearchManager:
		return db.SectionInvestmentPlan
	case RoleTrader:
		return db.SectionTraderPlan
	case RoleRiskManager:
		return db.SectionFinalTradeDecision
	default:
		return ""
	}
}

// InvestmentDebateView is the read-only bull/bear debate state an agent
// receives.
type InvestmentDebateView struct {
	Count           int
	History         string
	BullHistory     string
	BearHistory     string
	CurrentResponse string
}

// RiskDebateView is the read-only risky/safe/neutral debate state an agent
// receives.
type RiskDebateView struct {
	Count                  int
	History                string
	RiskyHistory           string
	SafeHistory            string
	NeutralHistory         string
	LatestSpeaker          Role
	CurrentRiskyResponse   string
	CurrentSafeResponse    string
	CurrentNeutralResponse string
}

// State is the immutable session view passed into one agent step. The
// orchestrator owns the mutable run state; agents only read.
type State struct {
	Ticker    string
	TradeDate string // YYYY-MM-DD
	Reports   map[db.SectionType]string

	InvestmentDebate InvestmentDebateView
	RiskDebate       RiskDebateView
}

// Report returns the named section's content, empty if absent.
func (s State) Report(section db.SectionType) string {
	return s.Reports[section]
}

// AnalystSummary concatenates the phase A and B reports for downstream
// prompts, skipping sections that are not present yet.
func (s State) AnalystSummary() string {
	order := []db.SectionType{
		db.SectionMarketReport,
		db.SectionSentimentReport,
		db.SectionNewsReport,
		db.SectionFundamentalsReport,
		db.SectionBenGrahamReport,
		db.SectionWarrenBuffettReport,
	}
	var b strings.Builder
	for _, section := range order {
		content := s.Reports[section]
		if content == "" {
			continue
		}
		b.WriteString("## ")
		b.WriteString(string(section))
		b.WriteString("\n\n")
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return b.String()
}
