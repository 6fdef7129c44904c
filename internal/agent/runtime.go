package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradecouncil/tradecouncil/internal/errs"
	"github.com/tradecouncil/tradecouncil/internal/gateway"
	"github.com/tradecouncil/tradecouncil/internal/memory"
)

// ErrToolLoop is returned when an agent keeps requesting tools past the
// round bound instead of producing a final answer.
var ErrToolLoop = errors.New("agent exceeded tool round limit")

// ChatGateway is the LLM surface the runtime needs; satisfied by
// *gateway.Gateway and by scripted fakes in tests.
type ChatGateway interface {
	Chat(ctx context.Context, model string, messages []gateway.Message, tools []gateway.ToolDef) (*gateway.ChatResult, error)
}

// Recaller is the memory surface the runtime needs; nil disables recall.
type Recaller interface {
	Recall(ctx context.Context, situation string, n int) ([]memory.Match, error)
}

// Runtime executes single agent steps. It holds no per-session state; one
// Runtime serves all concurrent sessions.
type Runtime struct {
	chat          ChatGateway
	recaller      Recaller
	model         string
	maxToolRounds int
	stepBudget    time.Duration
	recallN       int
}

// RuntimeConfig tunes the agent runtime.
type RuntimeConfig struct {
	Model         string
	MaxToolRounds int
	StepBudget    time.Duration
	RecallN       int
}

// NewRuntime creates an agent runtime. recaller may be nil.
func NewRuntime(chat ChatGateway, recaller Recaller, cfg RuntimeConfig) *Runtime {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 8
	}
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = 2 * time.Minute
	}
	if cfg.RecallN <= 0 {
		cfg.RecallN = 2
	}
	return &Runtime{
		chat:          chat,
		recaller:      recaller,
		model:         cfg.Model,
		maxToolRounds: cfg.MaxToolRounds,
		stepBudget:    cfg.StepBudget,
		recallN:       cfg.RecallN,
	}
}

// StepResult is the output of one successful agent step.
type StepResult struct {
	Role       Role
	Content    string
	ToolRounds int
	Duration   time.Duration
}

// Step runs one bounded agent interaction: build the prompt, loop over
// tool calls through the gateway, and return the model's final text. The
// step fails with ErrToolLoop when the round bound is exceeded and
// annotates every error with the role name. Step never writes to the
// store; the orchestrator owns persistence.
func (r *Runtime) Step(ctx context.Context, role Role, state State, tools Toolset) (*StepResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, r.stepBudget)
	defer cancel()

	start := time.Now()
	messages := BuildMessages(role, state, r.recall(stepCtx, role, state))
	defs := tools.Defs()

	rounds := 0
	for {
		result, err := r.chat.Chat(stepCtx, r.model, messages, defs)
		if err != nil {
			return nil, r.annotate(ctx, role, err)
		}

		if len(result.ToolCalls) == 0 {
			content := strings.TrimSpace(result.Content)
			if content == "" {
				return nil, fmt.Errorf("agent %s: %w", role, errs.New(errs.KindUpstream, "model returned empty response"))
			}
			log.Debug().
				Str("agent", string(role)).
				Int("tool_rounds", rounds).
				Dur("duration", time.Since(start)).
				Msg("Agent step completed")
			return &StepResult{
				Role:       role,
				Content:    content,
				ToolRounds: rounds,
				Duration:   time.Since(start),
			}, nil
		}

		rounds++
		if rounds > r.maxToolRounds {
			return nil, fmt.Errorf("agent %s: %w", role, ErrToolLoop)
		}

		// Echo the assistant turn, then answer every tool call in order.
		messages = append(messages, gateway.Message{
			Role:      "assistant",
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		for _, call := range result.ToolCalls {
			msg, err := tools.Dispatch(stepCtx, call)
			if err != nil {
				return nil, r.annotate(ctx, role, err)
			}
			messages = append(messages, msg)
		}
	}
}

// recall fetches lessons from similar past situations for the roles that
// use them. Recall failures degrade to no memories; they never fail the
// step.
func (r *Runtime) recall(ctx context.Context, role Role, state State) []memory.Match {
	if r.recaller == nil {
		return nil
	}
	switch role {
	case RoleBullResearcher, RoleBearResearcher, RoleResearchManager, RoleTrader, RoleRiskManager:
	default:
		return nil
	}

	situation := state.AnalystSummary()
	if situation == "" {
		situation = state.Ticker + " " + state.TradeDate
	}
	matches, err := r.recaller.Recall(ctx, situation, r.recallN)
	if err != nil {
		log.Warn().Err(err).Str("agent", string(role)).Msg("Memory recall failed, continuing without")
		return nil
	}
	return matches
}

// annotate wraps a step error with the role name, converting a step-budget
// timeout into a Timeout kind unless the caller itself was canceled.
func (r *Runtime) annotate(ctx context.Context, role Role, err error) error {
	if ctx.Err() == nil && errs.KindOf(err) == errs.KindCanceled {
		err = errs.Wrap(errs.KindTimeout, "agent step budget exceeded", err)
	}
	return fmt.Errorf("agent %s: %w", role, err)
}
