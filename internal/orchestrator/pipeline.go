// Package orchestrator drives the analysis pipeline: analyst fan-out,
// bull/bear investment debate, trading plan, risk debate, and the final
// decision. It is the only writer of session state; agents receive
// immutable views and the store receives every transition.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tradecouncil/tradecouncil/internal/agent"
	"github.com/tradecouncil/tradecouncil/internal/db"
	"github.com/tradecouncil/tradecouncil/internal/errs"
	"github.com/tradecouncil/tradecouncil/internal/metrics"
	"github.com/tradecouncil/tradecouncil/internal/progress"
)

// Store is the persistence surface the orchestrator needs; satisfied by
// *db.DB.
type Store interface {
	CreateSession(ctx context.Context, owner string, userID *uuid.UUID, ticker string, analysisDate time.Time, config json.RawMessage) (uuid.UUID, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*db.AnalysisSession, error)
	AppendSection(ctx context.Context, sessionID uuid.UUID, sectionType db.SectionType, agentName, content string) error
	UpsertAgentStatus(ctx context.Context, sessionID uuid.UUID, agentName string, status db.AgentStatus, startedAt, completedAt *time.Time, errorMessage *string) error
	FinalizeSession(ctx context.Context, sessionID uuid.UUID, status db.SessionStatus, decision *db.Decision, confidence *float64, executionSeconds *float64) error
}

// Stepper executes one agent step; satisfied by *agent.Runtime.
type Stepper interface {
	Step(ctx context.Context, role agent.Role, state agent.State, tools agent.Toolset) (*agent.StepResult, error)
}

// Recorder persists situation/recommendation pairs for future recall;
// satisfied by *memory.Store. Nil disables recording.
type Recorder interface {
	Record(ctx context.Context, situation, recommendation string) error
}

// Config tunes the pipeline.
type Config struct {
	MaxDebateRounds int           // bull/bear round pairs, default 2
	MaxRiskRounds   int           // risky/safe/neutral rotations, default 1
	SessionDeadline time.Duration // whole-run budget, default 30m
	AnalystFanout   int           // concurrent phase A/B agents
}

// Orchestrator owns session lifecycles. One instance serves all sessions.
type Orchestrator struct {
	store   Store
	runtime Stepper
	bus     *progress.Bus
	tools   agent.Toolset
	memory  Recorder
	cfg     Config

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator. tools is the full capability set; each role
// receives its narrowed subset. memory may be nil.
func New(store Store, runtime Stepper, bus *progress.Bus, tools agent.Toolset, memory Recorder, cfg Config) *Orchestrator {
	if cfg.MaxDebateRounds <= 0 {
		cfg.MaxDebateRounds = 2
	}
	if cfg.MaxRiskRounds <= 0 {
		cfg.MaxRiskRounds = 1
	}
	if cfg.SessionDeadline <= 0 {
		cfg.SessionDeadline = 30 * time.Minute
	}
	if cfg.AnalystFanout <= 0 {
		cfg.AnalystFanout = 6
	}
	return &Orchestrator{
		store:   store,
		runtime: runtime,
		bus:     bus,
		tools:   tools,
		memory:  memory,
		cfg:     cfg,
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// StartAnalysis creates the session row and launches the pipeline in the
// background. The returned id is immediately queryable.
func (o *Orchestrator) StartAnalysis(ctx context.Context, owner string, userID *uuid.UUID, ticker string, analysisDate time.Time, config json.RawMessage) (uuid.UUID, error) {
	sessionID, err := o.store.CreateSession(ctx, owner, userID, ticker, analysisDate, config)
	if err != nil {
		return uuid.Nil, err
	}

	// The run outlives the HTTP request; it gets its own context bounded
	// by the session deadline.
	runCtx, cancel := context.WithTimeout(context.Background(), o.cfg.SessionDeadline)
	o.mu.Lock()
	o.cancels[sessionID] = cancel
	o.mu.Unlock()

	metrics.SessionsStarted.Inc()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.cancels, sessionID)
			o.mu.Unlock()
		}()
		o.run(runCtx, sessionID, ticker, analysisDate)
	}()

	return sessionID, nil
}

// Cancel requests cooperative cancellation of a running session. It
// returns InvalidTransition when the session is already terminal and
// NotFound when it does not exist.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return errs.Newf(errs.KindInvalidTransition, "session %s is already %s", sessionID, session.Status)
	}

	o.mu.Lock()
	cancel, ok := o.cancels[sessionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Shutdown cancels every running session and waits for their runs to
// finalize, up to ctx's deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runState is the orchestrator's private mutable state for one run. Agents
// only ever see immutable snapshots of it.
type runState struct {
	mu       sync.Mutex
	ticker   string
	date     string
	reports  map[db.SectionType]string
	invDeb   InvestmentDebate
	riskDeb  RiskDebate
}

func (rs *runState) setReport(section db.SectionType, content string) {
	rs.mu.Lock()
	rs.reports[section] = content
	rs.mu.Unlock()
}

func (rs *runState) snapshot() agent.State {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	reports := make(map[db.SectionType]string, len(rs.reports))
	for k, v := range rs.reports {
		reports[k] = v
	}
	return agent.State{
		Ticker:           rs.ticker,
		TradeDate:        rs.date,
		Reports:          reports,
		InvestmentDebate: rs.invDeb.View(),
		RiskDebate:       rs.riskDeb.View(),
	}
}

func (o *Orchestrator) run(ctx context.Context, sessionID uuid.UUID, ticker string, analysisDate time.Time) {
	start := time.Now()
	sid := sessionID.String()
	logger := log.With().Str("session_id", sid).Str("ticker", ticker).Logger()
	logger.Info().Msg("Analysis pipeline started")

	state := &runState{
		ticker:  ticker,
		date:    analysisDate.Format("2006-01-02"),
		reports: make(map[db.SectionType]string),
	}

	err := o.pipeline(ctx, sessionID, state)

	elapsed := time.Since(start).Seconds()
	switch {
	case err == nil:
		final := state.reports[db.SectionFinalTradeDecision]
		decision := ExtractDecision(final)
		confidence := ExtractConfidence(final)
		o.finalize(sessionID, db.StatusCompleted, decision, confidence, elapsed)
		o.remember(state, decision)
		metrics.SessionsCompleted.Inc()
		logger.Info().Float64("execution_seconds", elapsed).Msg("Analysis pipeline completed")

	case errs.KindOf(err) == errs.KindCanceled || errs.KindOf(err) == errs.KindTimeout && ctx.Err() != nil:
		o.finalize(sessionID, db.StatusCanceled, nil, nil, elapsed)
		metrics.SessionsCanceled.Inc()
		logger.Info().Msg("Analysis pipeline canceled")

	default:
		o.finalize(sessionID, db.StatusFailed, nil, nil, elapsed)
		metrics.SessionsFailed.Inc()
		logger.Error().Err(err).Msg("Analysis pipeline failed")
	}
}

// pipeline runs phases A through G in dependency order.
func (o *Orchestrator) pipeline(ctx context.Context, sessionID uuid.UUID, state *runState) error {
	// Phases A and B share the same session-level inputs and fan out
	// together; the debate cannot start until all six sections exist.
	o.publishPhase(sessionID, "analysts")
	analystRoles := []agent.Role{
		agent.RoleMarketAnalyst,
		agent.RoleSocialAnalyst,
		agent.RoleNewsAnalyst,
		agent.RoleFundamentalsAnalyst,
		agent.RoleBenGraham,
		agent.RoleWarrenBuffett,
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.cfg.AnalystFanout)
	for _, role := range analystRoles {
		eg.Go(func() error {
			return o.step(egCtx, sessionID, role, state, true)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	// Phase C: investment debate.
	o.publishPhase(sessionID, "investment_debate")
	for !state.invDeb.Done(o.cfg.MaxDebateRounds) {
		speaker := state.invDeb.NextSpeaker()
		result, err := o.stepResult(ctx, sessionID, speaker, state)
		if err != nil {
			return err
		}
		state.mu.Lock()
		state.invDeb.Append(speaker, result.Content)
		state.mu.Unlock()
	}

	// Phase D: research manager writes the investment plan.
	o.publishPhase(sessionID, "research_manager")
	if err := o.step(ctx, sessionID, agent.RoleResearchManager, state, true); err != nil {
		return err
	}

	// Phase E: trader turns the plan into a trading plan.
	o.publishPhase(sessionID, "trader")
	if err := o.step(ctx, sessionID, agent.RoleTrader, state, true); err != nil {
		return err
	}

	// Phase F: risk debate.
	o.publishPhase(sessionID, "risk_debate")
	for !state.riskDeb.Done(o.cfg.MaxRiskRounds) {
		speaker := state.riskDeb.NextSpeaker()
		result, err := o.stepResult(ctx, sessionID, speaker, state)
		if err != nil {
			return err
		}
		state.mu.Lock()
		state.riskDeb.Append(speaker, result.Content)
		state.mu.Unlock()
	}

	// Phase G: risk manager writes the final trade decision.
	o.publishPhase(sessionID, "risk_manager")
	return o.step(ctx, sessionID, agent.RoleRiskManager, state, true)
}

// step runs one agent and, when the role owns a section, persists it.
func (o *Orchestrator) step(ctx context.Context, sessionID uuid.UUID, role agent.Role, state *runState, persistSection bool) error {
	result, err := o.stepResult(ctx, sessionID, role, state)
	if err != nil {
		return err
	}
	section := role.Section()
	if section == "" || !persistSection {
		return nil
	}

	state.setReport(section, result.Content)
	if err := o.store.AppendSection(ctx, sessionID, section, string(role), result.Content); err != nil {
		return err
	}
	o.bus.Publish(sessionID.String(), progress.EventSectionAppended, map[string]any{
		"section": string(section),
		"agent":   string(role),
	})
	return nil
}

// stepResult runs one agent step with full execution bookkeeping: the
// started/finished events and the agent_executions row around the step.
func (o *Orchestrator) stepResult(ctx context.Context, sessionID uuid.UUID, role agent.Role, state *runState) (*agent.StepResult, error) {
	sid := sessionID.String()
	name := string(role)
	started := time.Now().UTC()

	// Bookkeeping writes survive a canceled run context.
	dbCtx := context.WithoutCancel(ctx)

	o.bus.Publish(sid, progress.EventAgentStarted, map[string]any{"agent": name})
	if err := o.store.UpsertAgentStatus(dbCtx, sessionID, name, db.AgentRunning, &started, nil, nil); err != nil {
		return nil, err
	}

	result, err := o.runtime.Step(ctx, role, state.snapshot(), agent.ToolsForRole(role, o.tools))
	completed := time.Now().UTC()

	if err != nil {
		msg := err.Error()
		if upErr := o.store.UpsertAgentStatus(dbCtx, sessionID, name, db.AgentFailed, nil, &completed, &msg); upErr != nil {
			log.Error().Err(upErr).Str("session_id", sid).Str("agent", name).Msg("Failed to record agent failure")
		}
		o.bus.Publish(sid, progress.EventAgentFinished, map[string]any{"agent": name, "status": "failed"})
		metrics.AgentSteps.WithLabelValues(name, "failed").Inc()
		return nil, err
	}

	if err := o.store.UpsertAgentStatus(dbCtx, sessionID, name, db.AgentCompleted, nil, &completed, nil); err != nil {
		return nil, err
	}
	o.bus.Publish(sid, progress.EventAgentFinished, map[string]any{"agent": name, "status": "completed"})
	metrics.AgentSteps.WithLabelValues(name, "completed").Inc()
	metrics.AgentStepDuration.WithLabelValues(name).Observe(result.Duration.Seconds())
	return result, nil
}

// finalize writes the terminal status and publishes the terminal event.
// All sections are already committed, so a subscriber observing the
// terminal event reads a consistent report through the store.
func (o *Orchestrator) finalize(sessionID uuid.UUID, status db.SessionStatus, decision *db.Decision, confidence *float64, elapsed float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.store.FinalizeSession(ctx, sessionID, status, decision, confidence, &elapsed); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to finalize session")
	}

	payload := map[string]any{"status": string(status)}
	if decision != nil {
		payload["final_decision"] = string(*decision)
	}
	if confidence != nil {
		payload["confidence"] = *confidence
	}
	o.bus.Publish(sessionID.String(), progress.EventTerminal, payload)
}

// remember stores the run's situation and outcome for future recall.
func (o *Orchestrator) remember(state *runState, decision *db.Decision) {
	if o.memory == nil || decision == nil {
		return
	}
	situation := state.snapshot().AnalystSummary()
	if situation == "" {
		return
	}
	recommendation := fmt.Sprintf("%s for %s on %s", *decision, state.ticker, state.date)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.memory.Record(ctx, situation, recommendation); err != nil {
		log.Warn().Err(err).Str("ticker", state.ticker).Msg("Failed to record memory entry")
	}
}

func (o *Orchestrator) publishPhase(sessionID uuid.UUID, phase string) {
	o.bus.Publish(sessionID.String(), progress.EventPhaseChanged, map[string]any{"phase": phase})
}
