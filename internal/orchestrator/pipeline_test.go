package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecouncil/tradecouncil/internal/agent"
	"github.com/tradecouncil/tradecouncil/internal/db"
	"github.com/tradecouncil/tradecouncil/internal/errs"
	"github.com/tradecouncil/tradecouncil/internal/progress"
)

// fakeStore is an in-memory Store with the same transition rules as the
// database implementation.
type fakeStore struct {
	mu         sync.Mutex
	sessions   map[uuid.UUID]*db.AnalysisSession
	sections   []*db.ReportSection
	executions map[string]*db.AgentExecution // keyed session|agent
	seq        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:   make(map[uuid.UUID]*db.AnalysisSession),
		executions: make(map[string]*db.AgentExecution),
	}
}

func (f *fakeStore) CreateSession(ctx context.Context, owner string, userID *uuid.UUID, ticker string, analysisDate time.Time, config json.RawMessage) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.sessions[id] = &db.AnalysisSession{
		SessionID:     id,
		OwnerUsername: owner,
		Ticker:        ticker,
		AnalysisDate:  analysisDate,
		Status:        db.StatusRunning,
		CreatedAt:     time.Now(),
	}
	return id, nil
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID uuid.UUID) (*db.AnalysisSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "session %s not found", sessionID)
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) AppendSection(ctx context.Context, sessionID uuid.UUID, sectionType db.SectionType, agentName, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	createdAt := time.Unix(int64(f.seq), 0)
	for _, s := range f.sections {
		if s.SessionID == sessionID && s.SectionType == sectionType {
			s.AgentName = agentName
			s.Content = content
			s.CreatedAt = createdAt
			return nil
		}
	}
	f.sections = append(f.sections, &db.ReportSection{
		ID:          uuid.New(),
		SessionID:   sessionID,
		SectionType: sectionType,
		AgentName:   agentName,
		Content:     content,
		CreatedAt:   createdAt,
	})
	return nil
}

func (f *fakeStore) UpsertAgentStatus(ctx context.Context, sessionID uuid.UUID, agentName string, status db.AgentStatus, startedAt, completedAt *time.Time, errorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sessionID.String() + "|" + agentName
	e, ok := f.executions[key]
	if !ok {
		e = &db.AgentExecution{ID: uuid.New(), SessionID: sessionID, AgentName: agentName}
		f.executions[key] = e
	}
	e.Status = status
	if startedAt != nil {
		e.StartedAt = startedAt
	}
	if completedAt != nil {
		e.CompletedAt = completedAt
	}
	if errorMessage != nil {
		e.ErrorMessage = errorMessage
	}
	return nil
}

func (f *fakeStore) FinalizeSession(ctx context.Context, sessionID uuid.UUID, status db.SessionStatus, decision *db.Decision, confidence *float64, executionSeconds *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return errs.Newf(errs.KindNotFound, "session %s not found", sessionID)
	}
	if s.Status != db.StatusRunning {
		return errs.Newf(errs.KindInvalidTransition, "session %s is not running", sessionID)
	}
	now := time.Now()
	s.Status = status
	s.FinalDecision = decision
	s.Confidence = confidence
	s.ExecutionSeconds = executionSeconds
	s.CompletedAt = &now
	return nil
}

func (f *fakeStore) sectionTypes(sessionID uuid.UUID) map[db.SectionType]*db.ReportSection {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[db.SectionType]*db.ReportSection)
	for _, s := range f.sections {
		if s.SessionID == sessionID {
			out[s.SectionType] = s
		}
	}
	return out
}

// scriptedStepper answers every role from a canned map.
type scriptedStepper struct {
	mu        sync.Mutex
	responses map[agent.Role]string
	failRole  agent.Role
	calls     []agent.Role
	counts    []int // InvestmentDebate.Count seen by debate roles, in order
}

func (s *scriptedStepper) Step(ctx context.Context, role agent.Role, state agent.State, tools agent.Toolset) (*agent.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCanceled, "canceled", err)
	}
	s.mu.Lock()
	s.calls = append(s.calls, role)
	if role == agent.RoleBullResearcher || role == agent.RoleBearResearcher {
		s.counts = append(s.counts, state.InvestmentDebate.Count)
	}
	s.mu.Unlock()

	if role == s.failRole {
		return nil, fmt.Errorf("agent %s: %w", role, errs.New(errs.KindUpstream, "provider down"))
	}

	content, ok := s.responses[role]
	if !ok {
		content = string(role) + " output"
	}
	return &agent.StepResult{Role: role, Content: content, Duration: time.Millisecond}, nil
}

func finalDecisionContent() string {
	return "Risk review complete.\n\nFINAL TRANSACTION PROPOSAL: BUY\nConfidence: 80%"
}

func startTestRun(t *testing.T, stepper *scriptedStepper, cfg Config) (*Orchestrator, *fakeStore, uuid.UUID, []progress.Event) {
	t.Helper()

	store := newFakeStore()
	bus := progress.NewBus()
	o := New(store, stepper, bus, agent.Toolset{}, nil, cfg)

	sessionID, err := o.StartAnalysis(context.Background(), "alice", nil, "AAPL", time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)

	ch, cancel := bus.Subscribe(sessionID.String())
	defer cancel()

	var events []progress.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return o, store, sessionID, events
			}
			events = append(events, ev)
			if ev.Terminal() {
				// Drain until close.
				for range ch {
				}
				return o, store, sessionID, events
			}
		case <-timeout:
			t.Fatal("timed out waiting for terminal event")
		}
	}
}

func TestPipelineHappyPath(t *testing.T) {
	stepper := &scriptedStepper{responses: map[agent.Role]string{
		agent.RoleRiskManager: finalDecisionContent(),
	}}
	_, store, sessionID, events := startTestRun(t, stepper, Config{})

	session, err := store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, session.Status)
	require.NotNil(t, session.FinalDecision)
	assert.Equal(t, db.DecisionBuy, *session.FinalDecision)
	require.NotNil(t, session.Confidence)
	assert.InDelta(t, 0.8, *session.Confidence, 1e-9)
	require.NotNil(t, session.ExecutionSeconds)

	// All nine section types are present.
	sections := store.sectionTypes(sessionID)
	for _, st := range db.SectionTypes {
		assert.Contains(t, sections, st, "missing section %s", st)
	}

	// Default rounds: 4 investment debate turns, 3 risk debate turns,
	// 16 agent steps overall.
	assert.Len(t, stepper.calls, 16)

	last := events[len(events)-1]
	assert.Equal(t, progress.EventTerminal, last.Kind)
	assert.Equal(t, "completed", last.Payload["status"])
	assert.Equal(t, "BUY", last.Payload["final_decision"])
}

func TestPipelineSectionOrdering(t *testing.T) {
	stepper := &scriptedStepper{responses: map[agent.Role]string{
		agent.RoleRiskManager: finalDecisionContent(),
	}}
	_, store, sessionID, _ := startTestRun(t, stepper, Config{})

	sections := store.sectionTypes(sessionID)
	plan := sections[db.SectionInvestmentPlan]
	traderPlan := sections[db.SectionTraderPlan]
	final := sections[db.SectionFinalTradeDecision]
	require.NotNil(t, plan)
	require.NotNil(t, traderPlan)
	require.NotNil(t, final)

	assert.True(t, !traderPlan.CreatedAt.Before(plan.CreatedAt), "trader plan must follow investment plan")
	assert.True(t, !final.CreatedAt.Before(traderPlan.CreatedAt), "final decision must follow trader plan")

	// Every analyst section precedes the investment plan.
	for _, st := range []db.SectionType{
		db.SectionMarketReport, db.SectionSentimentReport, db.SectionNewsReport,
		db.SectionFundamentalsReport, db.SectionBenGrahamReport, db.SectionWarrenBuffettReport,
	} {
		require.NotNil(t, sections[st])
		assert.True(t, !plan.CreatedAt.Before(sections[st].CreatedAt))
	}
}

func TestPipelineDebateCountsMonotonic(t *testing.T) {
	stepper := &scriptedStepper{responses: map[agent.Role]string{
		agent.RoleRiskManager: finalDecisionContent(),
	}}
	startTestRun(t, stepper, Config{MaxDebateRounds: 3})

	require.Len(t, stepper.counts, 6)
	for i := 1; i < len(stepper.counts); i++ {
		assert.Greater(t, stepper.counts[i], stepper.counts[i-1])
	}
}

func TestPipelineAnalystFailureFatal(t *testing.T) {
	stepper := &scriptedStepper{failRole: agent.RoleNewsAnalyst}
	_, store, sessionID, events := startTestRun(t, stepper, Config{})

	session, err := store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, session.Status)
	assert.Nil(t, session.FinalDecision)

	// The failing agent's execution row carries the error.
	exec := store.executions[sessionID.String()+"|news_analyst"]
	require.NotNil(t, exec)
	assert.Equal(t, db.AgentFailed, exec.Status)
	require.NotNil(t, exec.ErrorMessage)
	assert.Contains(t, *exec.ErrorMessage, "provider down")

	last := events[len(events)-1]
	assert.Equal(t, "failed", last.Payload["status"])
}

func TestPipelineNoDecisionStillCompletes(t *testing.T) {
	stepper := &scriptedStepper{responses: map[agent.Role]string{
		agent.RoleRiskManager: "Inconclusive risk review with no proposal line.",
	}}
	_, store, sessionID, _ := startTestRun(t, stepper, Config{})

	session, err := store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, session.Status)
	assert.Nil(t, session.FinalDecision)
	assert.Nil(t, session.Confidence)
}

// blockingStepper holds every step until released, for cancel tests.
type blockingStepper struct {
	release chan struct{}
	started atomic.Int32
}

func (b *blockingStepper) Step(ctx context.Context, role agent.Role, state agent.State, tools agent.Toolset) (*agent.StepResult, error) {
	b.started.Add(1)
	select {
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindCanceled, "canceled", ctx.Err())
	case <-b.release:
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCanceled, "canceled", err)
	}
	return &agent.StepResult{Role: role, Content: string(role) + " output"}, nil
}

func TestPipelineCancel(t *testing.T) {
	release := make(chan struct{})
	stepper := &blockingStepper{release: release}

	store := newFakeStore()
	bus := progress.NewBus()
	o := New(store, stepper, bus, agent.Toolset{}, nil, Config{})

	sessionID, err := o.StartAnalysis(context.Background(), "alice", nil, "AAPL", time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)

	ch, cancelSub := bus.Subscribe(sessionID.String())
	defer cancelSub()

	// Let at least one agent start, then cancel.
	require.Eventually(t, func() bool { return stepper.started.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, o.Cancel(context.Background(), sessionID))
	close(release)

	var started, finished int
	timeout := time.After(10 * time.Second)
	for {
		var ev progress.Event
		var ok bool
		select {
		case ev, ok = <-ch:
		case <-timeout:
			t.Fatal("timed out waiting for terminal event")
		}
		if !ok {
			break
		}
		switch ev.Kind {
		case progress.EventAgentStarted:
			started++
		case progress.EventAgentFinished:
			finished++
		case progress.EventTerminal:
			assert.Equal(t, "canceled", ev.Payload["status"])
		}
	}

	session, err := store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCanceled, session.Status)
	assert.Nil(t, session.FinalDecision)
	assert.LessOrEqual(t, started, finished+6, "in-flight agents are allowed to return")

	// Cancel of a terminal session is rejected.
	err = o.Cancel(context.Background(), sessionID)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))
}

func TestPipelineShutdownCancelsRuns(t *testing.T) {
	release := make(chan struct{})
	stepper := &blockingStepper{release: release}

	store := newFakeStore()
	bus := progress.NewBus()
	o := New(store, stepper, bus, agent.Toolset{}, nil, Config{})

	sessionID, err := o.StartAnalysis(context.Background(), "alice", nil, "AAPL", time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return stepper.started.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	session, err := store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, session.Status.Terminal())
}
