package agent

import (
	"fmt"
	"strings"

	"github.com/tradecouncil/tradecouncil/internal/db"
	"github.com/tradecouncil/tradecouncil/internal/gateway"
	"github.com/tradecouncil/tradecouncil/internal/memory"
)

const marketAnalystSystemPrompt = `You are a market analyst on an equity research desk. You evaluate price action,
volume, volatility, and the macro backdrop for a single ticker on a given trade
date. Use your tools to fetch the current quote and relevant economic series.
Write a concise markdown report covering current price context, recent trend,
macro factors, and what a trader should watch. End with a one-paragraph
summary. Do not give a buy/hold/sell recommendation; that is decided later.`

const socialAnalystSystemPrompt = `You are a sentiment analyst. You gauge crowd mood around a ticker using the
market fear and greed index and composite sentiment data. Use your tools, then
write a concise markdown report on current sentiment, how it has shifted, and
whether positioning looks crowded. Do not recommend a trade.`

const newsAnalystSystemPrompt = `You are a news analyst. You digest recent company headlines and the broader
market news flow for a ticker. Use your tools to pull headlines, then write a
concise markdown report: the material stories, their likely direction of
impact, and anything pending (earnings, litigation, product events). Do not
recommend a trade.`

const fundamentalsAnalystSystemPrompt = `You are a fundamentals analyst. You assess a company's business quality,
profitability, and valuation context. Use the quote and news tools for current
numbers, then write a concise markdown report on the fundamental picture. Do
not recommend a trade.`

const benGrahamSystemPrompt = `You are channeling Benjamin Graham's margin-of-safety discipline. Evaluate the
ticker as Graham would: is there a margin of safety at the current price, what
do conservative earnings and asset measures suggest, where could the market be
mispricing. Write a concise markdown memo in that voice.`

const warrenBuffettSystemPrompt = `You are channeling Warren Buffett's owner mindset. Evaluate the ticker as
Buffett would: durability of the moat, quality of management and capital
allocation, whether the price offers a sensible long-term return. Write a
concise markdown memo in that voice.`

const bullResearcherSystemPrompt = `You are the bull researcher in an investment debate. Argue the strongest
honest case FOR buying this ticker, grounded in the analyst reports. Rebut the
bear's latest points directly. Keep it to a few tight paragraphs. Begin your
reply with "Bull:".`

const bearResearcherSystemPrompt = `You are the bear researcher in an investment debate. Argue the strongest
honest case AGAINST buying this ticker, grounded in the analyst reports. Rebut
the bull's latest points directly. Keep it to a few tight paragraphs. Begin
your reply with "Bear:".`

const researchManagerSystemPrompt = `You are the research manager. You have the analyst reports and the full
bull/bear debate. Weigh both sides, pick a direction, and write an investment
plan in markdown: thesis, key risks, entry considerations, and what would
invalidate the thesis. State clearly which side won the debate and why.`

const traderSystemPrompt = `You are the trader. Turn the research manager's investment plan into a
concrete trading plan in markdown: position direction, sizing logic, entry and
exit levels, and time horizon. Be specific and practical.`

const riskyAnalystSystemPrompt = `You are the aggressive risk analyst in a risk review. Argue for taking more
risk on this plan where the reward justifies it, responding to the other risk
analysts' latest points. Keep it short. Begin your reply with "Risky:".`

const safeAnalystSystemPrompt = `You are the conservative risk analyst in a risk review. Argue for reducing
risk, flag what could go badly wrong with the plan, and respond to the other
risk analysts' latest points. Keep it short. Begin your reply with "Safe:".`

const neutralAnalystSystemPrompt = `You are the neutral risk analyst in a risk review. Weigh the aggressive and
conservative arguments evenly and point out what both are missing. Keep it
short. Begin your reply with "Neutral:".`

const riskManagerSystemPrompt = `You are the risk manager with final authority. You have the trading plan and
the full risk debate. Write the final trade decision in markdown. You MUST end
with two lines exactly in this form:

FINAL TRANSACTION PROPOSAL: BUY or HOLD or SELL
Confidence: NN%

where NN is an integer 0-100.`

// SystemPrompt returns the role's system prompt.
func SystemPrompt(role Role) string {
	switch role {
	case RoleMarketAnalyst:
		return marketAnalystSystemPrompt
	case RoleSocialAnalyst:
		return socialAnalystSystemPrompt
	case RoleNewsAnalyst:
		return newsAnalystSystemPrompt
	case RoleFundamentalsAnalyst:
		return fundamentalsAnalystSystemPrompt
	case RoleBenGraham:
		return benGrahamSystemPrompt
	case RoleWarrenBuffett:
		return warrenBuffettSystemPrompt
	case RoleBullResearcher:
		return bullResearcherSystemPrompt
	case RoleBearResearcher:
		return bearResearcherSystemPrompt
	case RoleResearchManager:
		return researchManagerSystemPrompt
	case RoleTrader:
		return traderSystemPrompt
	case RoleRiskyAnalyst:
		return riskyAnalystSystemPrompt
	case RoleSafeAnalyst:
		return safeAnalystSystemPrompt
	case RoleNeutralAnalyst:
		return neutralAnalystSystemPrompt
	case RoleRiskManager:
		return riskManagerSystemPrompt
	default:
		return "You are a financial analyst. Respond in concise markdown."
	}
}

// BuildMessages assembles the chat transcript for one agent step: system
// prompt, then a user message carrying the task, the relevant state, and
// recalled memories.
func BuildMessages(role Role, state State, memories []memory.Match) []gateway.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticker: %s\nTrade date: %s\n\n", state.Ticker, state.TradeDate)

	switch role {
	case RoleMarketAnalyst, RoleSocialAnalyst, RoleNewsAnalyst, RoleFundamentalsAnalyst,
		RoleBenGraham, RoleWarrenBuffett:
		b.WriteString("Produce your report for this ticker and date.\n")

	case RoleBullResearcher, RoleBearResearcher:
		b.WriteString("# Analyst reports\n\n")
		b.WriteString(state.AnalystSummary())
		b.WriteString("# Debate so far\n\n")
		if state.InvestmentDebate.History == "" {
			b.WriteString("(no turns yet; you open the debate)\n")
		} else {
			b.WriteString(state.InvestmentDebate.History)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\nThis is turn %d. Make your argument.\n", state.InvestmentDebate.Count+1)

	case RoleResearchManager:
		b.WriteString("# Analyst reports\n\n")
		b.WriteString(state.AnalystSummary())
		b.WriteString("# Full investment debate\n\n")
		b.WriteString(state.InvestmentDebate.History)
		b.WriteString("\n\nWrite the investment plan.\n")

	case RoleTrader:
		b.WriteString("# Investment plan\n\n")
		b.WriteString(state.Report(db.SectionInvestmentPlan))
		b.WriteString("\n\nWrite the trading plan.\n")

	case RoleRiskyAnalyst, RoleSafeAnalyst, RoleNeutralAnalyst:
		b.WriteString("# Trading plan\n\n")
		b.WriteString(state.Report(db.SectionTraderPlan))
		b.WriteString("\n\n# Risk debate so far\n\n")
		if state.RiskDebate.History == "" {
			b.WriteString("(no turns yet; you open the review)\n")
		} else {
			b.WriteString(state.RiskDebate.History)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\nThis is turn %d. Make your argument.\n", state.RiskDebate.Count+1)

	case RoleRiskManager:
		b.WriteString("# Trading plan\n\n")
		b.WriteString(state.Report(db.SectionTraderPlan))
		b.WriteString("\n\n# Full risk debate\n\n")
		b.WriteString(state.RiskDebate.History)
		b.WriteString("\n\nWrite the final trade decision.\n")
	}

	if len(memories) > 0 {
		b.WriteString("\n# Lessons from similar past situations\n\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- Situation: %s\n  Outcome: %s\n", m.Situation, m.Recommendation)
		}
	}

	return []gateway.Message{
		{Role: "system", Content: SystemPrompt(role)},
		{Role: "user", Content: b.String()},
	}
}
