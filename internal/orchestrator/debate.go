package orchestrator

import (
	"strings"

	"github.com/tradecouncil/tradecouncil/internal/agent"
)

// InvestmentDebate is the bull/bear debate state. The counter and the
// append-only histories are the whole state; turns are strictly sequential
// so the struct needs no locking.
type InvestmentDebate struct {
	Count           int
	History         string
	BullHistory     string
	BearHistory     string
	CurrentResponse string
}

// NextSpeaker returns whose turn it is. Bull opens and speaks on every
// even count.
func (d *InvestmentDebate) NextSpeaker() agent.Role {
	if d.Count%2 == 0 {
		return agent.RoleBullResearcher
	}
	return agent.RoleBearResearcher
}

// Append records one turn: the argument goes to the shared history, the
// speaker's own history, and becomes the current response. The speaker tag
// is enforced here rather than trusted from the model.
func (d *InvestmentDebate) Append(role agent.Role, argument string) {
	switch role {
	case agent.RoleBullResearcher:
		argument = tagArgument("Bull", argument)
		d.BullHistory = appendHistory(d.BullHistory, argument)
	case agent.RoleBearResearcher:
		argument = tagArgument("Bear", argument)
		d.BearHistory = appendHistory(d.BearHistory, argument)
	}
	d.History = appendHistory(d.History, argument)
	d.CurrentResponse = argument
	d.Count++
}

// Done reports whether the debate has run its configured rounds. One round
// is one bull turn plus one bear turn.
func (d *InvestmentDebate) Done(maxRounds int) bool {
	return d.Count >= 2*maxRounds
}

// View produces the immutable snapshot handed to agents.
func (d *InvestmentDebate) View() agent.InvestmentDebateView {
	return agent.InvestmentDebateView{
		Count:           d.Count,
		History:         d.History,
		BullHistory:     d.BullHistory,
		BearHistory:     d.BearHistory,
		CurrentResponse: d.CurrentResponse,
	}
}

// riskRotation is the fixed speaking order of the risk debate.
var riskRotation = []agent.Role{
	agent.RoleRiskyAnalyst,
	agent.RoleSafeAnalyst,
	agent.RoleNeutralAnalyst,
}

// RiskDebate is the risky/safe/neutral debate state.
type RiskDebate struct {
	Count                  int
	History                string
	RiskyHistory           string
	SafeHistory            string
	NeutralHistory         string
	LatestSpeaker          agent.Role
	CurrentRiskyResponse   string
	CurrentSafeResponse    string
	CurrentNeutralResponse string
}

// NextSpeaker returns whose turn it is: risky opens, then safe, then
// neutral, repeating.
func (d *RiskDebate) NextSpeaker() agent.Role {
	return riskRotation[d.Count%len(riskRotation)]
}

// Append records one turn for the given speaker, enforcing the speaker tag.
func (d *RiskDebate) Append(role agent.Role, argument string) {
	switch role {
	case agent.RoleRiskyAnalyst:
		argument = tagArgument("Risky", argument)
		d.RiskyHistory = appendHistory(d.RiskyHistory, argument)
		d.CurrentRiskyResponse = argument
	case agent.RoleSafeAnalyst:
		argument = tagArgument("Safe", argument)
		d.SafeHistory = appendHistory(d.SafeHistory, argument)
		d.CurrentSafeResponse = argument
	case agent.RoleNeutralAnalyst:
		argument = tagArgument("Neutral", argument)
		d.NeutralHistory = appendHistory(d.NeutralHistory, argument)
		d.CurrentNeutralResponse = argument
	}
	d.History = appendHistory(d.History, argument)
	d.LatestSpeaker = role
	d.Count++
}

// Done reports whether the risk debate has run its configured rounds. One
// round is one full risky/safe/neutral rotation.
func (d *RiskDebate) Done(maxRounds int) bool {
	return d.Count >= 3*maxRounds
}

// View produces the immutable snapshot handed to agents.
func (d *RiskDebate) View() agent.RiskDebateView {
	return agent.RiskDebateView{
		Count:                  d.Count,
		History:                d.History,
		RiskyHistory:           d.RiskyHistory,
		SafeHistory:            d.SafeHistory,
		NeutralHistory:         d.NeutralHistory,
		LatestSpeaker:          d.LatestSpeaker,
		CurrentRiskyResponse:   d.CurrentRiskyResponse,
		CurrentSafeResponse:    d.CurrentSafeResponse,
		CurrentNeutralResponse: d.CurrentNeutralResponse,
	}
}

func appendHistory(history, argument string) string {
	argument = strings.TrimSpace(argument)
	if history == "" {
		return argument
	}
	return history + "\n\n" + argument
}

// tagArgument prefixes the speaker tag unless the model already supplied it
// in any casing.
func tagArgument(tag, argument string) string {
	argument = strings.TrimSpace(argument)
	prefix := tag + ":"
	if len(argument) >= len(prefix) && strings.EqualFold(argument[:len(prefix)], prefix) {
		return argument
	}
	return tag + ": " + argument
}
