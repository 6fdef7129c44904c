package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tradecouncil/tradecouncil/internal/config"
	"github.com/tradecouncil/tradecouncil/internal/db"
	"github.com/tradecouncil/tradecouncil/internal/errs"
	"github.com/tradecouncil/tradecouncil/internal/gateway"
	"github.com/tradecouncil/tradecouncil/internal/progress"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*db.User
	sessions map[uuid.UUID]*db.AnalysisSession
	sections map[uuid.UUID][]*db.ReportSection
	prefs    map[string]*db.UserPreference

	healthErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*db.User),
		sessions: make(map[uuid.UUID]*db.AnalysisSession),
		sections: make(map[uuid.UUID][]*db.ReportSection),
		prefs:    make(map[string]*db.UserPreference),
	}
}

func (f *fakeStore) addUser(t *testing.T, username, password string, isAdmin bool) *db.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &db.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     true,
		IsAdmin:      isAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	f.mu.Lock()
	f.users[username] = user
	f.mu.Unlock()
	return user
}

func (f *fakeStore) addSession(owner string, status db.SessionStatus) *db.AnalysisSession {
	session := &db.AnalysisSession{
		SessionID:     uuid.New(),
		OwnerUsername: owner,
		Ticker:        "AAPL",
		AnalysisDate:  time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
	if status.Terminal() {
		now := time.Now().UTC()
		session.CompletedAt = &now
	}
	f.mu.Lock()
	f.sessions[session.SessionID] = session
	f.mu.Unlock()
	return session
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[username]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "user %q not found", username)
	}
	return user, nil
}

func (f *fakeStore) GetSession(_ context.Context, sessionID uuid.UUID) (*db.AnalysisSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "session %s not found", sessionID)
	}
	return session, nil
}

func (f *fakeStore) GetFullReport(ctx context.Context, sessionID uuid.UUID) (*db.FullReport, error) {
	session, err := f.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &db.FullReport{
		Session:    session,
		Sections:   append([]*db.ReportSection(nil), f.sections[sessionID]...),
		Executions: []*db.AgentExecution{},
	}, nil
}

func (f *fakeStore) ListSessions(_ context.Context, filter db.SessionFilter) ([]*db.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.SessionSummary
	for _, s := range f.sessions {
		if filter.Owner != "" && s.OwnerUsername != filter.Owner {
			continue
		}
		if filter.Ticker != "" && s.Ticker != filter.Ticker {
			continue
		}
		out = append(out, &db.SessionSummary{
			SessionID:     s.SessionID,
			Ticker:        s.Ticker,
			AnalysisDate:  s.AnalysisDate,
			Status:        s.Status,
			FinalDecision: s.FinalDecision,
			Confidence:    s.Confidence,
			CompletedAt:   s.CompletedAt,
		})
	}
	return out, nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, sessionID uuid.UUID, requestingOwner string) error {
	session, err := f.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.OwnerUsername != requestingOwner {
		return errs.Newf(errs.KindForbidden, "session %s is not owned by %s", sessionID, requestingOwner)
	}
	f.mu.Lock()
	delete(f.sessions, sessionID)
	delete(f.sections, sessionID)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) UpsertPreference(_ context.Context, userID uuid.UUID, key string, value json.RawMessage, category *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefs[userID.String()+"|"+key] = &db.UserPreference{
		UserID: userID, Key: key, Value: value, Category: category, UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (f *fakeStore) ListPreferences(_ context.Context, userID uuid.UUID, category string) ([]*db.UserPreference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.UserPreference
	for _, p := range f.prefs {
		if p.UserID != userID {
			continue
		}
		if category != "" && (p.Category == nil || *p.Category != category) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) Health(context.Context) (time.Duration, error) {
	if f.healthErr != nil {
		return 0, f.healthErr
	}
	return 2 * time.Millisecond, nil
}

// fakeAnalyzer records start/cancel calls.
type fakeAnalyzer struct {
	mu        sync.Mutex
	started   []string
	startErr  error
	cancelErr error
	store     *fakeStore
}

func (f *fakeAnalyzer) StartAnalysis(_ context.Context, owner string, userID *uuid.UUID, ticker string, analysisDate time.Time, cfg json.RawMessage) (uuid.UUID, error) {
	if f.startErr != nil {
		return uuid.Nil, f.startErr
	}
	f.mu.Lock()
	f.started = append(f.started, ticker)
	f.mu.Unlock()

	session := &db.AnalysisSession{
		SessionID:     uuid.New(),
		UserID:        userID,
		OwnerUsername: owner,
		Ticker:        ticker,
		AnalysisDate:  analysisDate,
		Status:        db.StatusRunning,
		CreatedAt:     time.Now().UTC(),
	}
	f.store.mu.Lock()
	f.store.sessions[session.SessionID] = session
	f.store.mu.Unlock()
	return session.SessionID, nil
}

func (f *fakeAnalyzer) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	session, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return errs.Newf(errs.KindInvalidTransition, "session %s is already %s", sessionID, session.Status)
	}
	return nil
}

// fakeMarket serves canned market data; nil function fields answer with an
// unavailable error, mirroring a disabled provider.
type fakeMarket struct {
	quoteFn     func(ticker string) (*gateway.Quote, error)
	quotesFn    func(tickers []string) ([]gateway.QuoteResult, error)
	historyFn   func(days int) ([]gateway.FearGreedPoint, error)
	sentimentFn func(ticker string) (*gateway.SentimentSnapshot, error)
}

func (f *fakeMarket) Quote(_ context.Context, ticker string) (*gateway.Quote, error) {
	if f.quoteFn == nil {
		return nil, errs.New(errs.KindUnavailable, "market data provider not configured")
	}
	return f.quoteFn(ticker)
}

func (f *fakeMarket) Quotes(_ context.Context, tickers []string) ([]gateway.QuoteResult, error) {
	if f.quotesFn == nil {
		return nil, errs.New(errs.KindUnavailable, "market data provider not configured")
	}
	return f.quotesFn(tickers)
}

func (f *fakeMarket) FearGreedHistory(_ context.Context, days int) ([]gateway.FearGreedPoint, error) {
	if f.historyFn == nil {
		return nil, errs.New(errs.KindUnavailable, "fear greed provider not configured")
	}
	return f.historyFn(days)
}

func (f *fakeMarket) FearGreedMonthly(ctx context.Context, days int) ([]gateway.FearGreedMonth, error) {
	points, err := f.FearGreedHistory(ctx, days)
	if err != nil {
		return nil, err
	}
	return gateway.AggregateMonthly(points), nil
}

func (f *fakeMarket) Sentiment(_ context.Context, ticker string, _ int) (*gateway.SentimentSnapshot, error) {
	if f.sentimentFn == nil {
		return nil, errs.New(errs.KindUnavailable, "sentiment sources unavailable")
	}
	return f.sentimentFn(ticker)
}

type testEnv struct {
	server   *Server
	store    *fakeStore
	analyzer *fakeAnalyzer
	market   *fakeMarket
	bus      *progress.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	analyzer := &fakeAnalyzer{store: store}
	market := &fakeMarket{}
	bus := progress.NewBus()

	server := NewServer(Config{
		Host:    "127.0.0.1",
		Port:    0,
		Version: "test",
		Debug:   true,
		// Generous global limit so only the targeted rules trip in tests.
		GlobalRate: config.RateRule{MaxRequests: 10000, Window: time.Minute},
		LoginRate:  config.RateRule{MaxRequests: 5, Window: 5 * time.Minute},
		StartRate:  config.RateRule{MaxRequests: 10, Window: 5 * time.Minute},
		Store:      store,
		Analyzer:   analyzer,
		Market:     market,
		Bus:        bus,
		Auth:       NewTokenIssuer("test-secret", time.Hour, 24*time.Hour, "", false),
	})

	return &testEnv{server: server, store: store, analyzer: analyzer, market: market, bus: bus}
}

// login creates the user if needed and returns a bearer token for it.
func (e *testEnv) token(t *testing.T, username string, isAdmin bool) string {
	t.Helper()
	e.store.mu.Lock()
	user, ok := e.store.users[username]
	e.store.mu.Unlock()
	if !ok {
		user = e.store.addUser(t, username, "password1", isAdmin)
	}
	pair, err := e.server.auth.Issue(Identity{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin})
	require.NoError(t, err)
	return pair.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return env
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	require.True(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Data, out))
}
