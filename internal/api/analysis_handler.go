package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tradecouncil/tradecouncil/internal/db"
	"github.com/tradecouncil/tradecouncil/internal/errs"
	"github.com/tradecouncil/tradecouncil/internal/progress"
	"github.com/tradecouncil/tradecouncil/internal/validation"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	sseHeartbeat = 15 * time.Second
)

type startAnalysisRequest struct {
	Ticker       string          `json:"ticker"`
	AnalysisDate string          `json:"analysis_date"`
	Config       json.RawMessage `json:"config,omitempty"`
}

// handleStartAnalysis validates the request and launches a pipeline run.
// The session id is returned immediately; progress arrives via the events
// stream or polling.
func (s *Server) handleStartAnalysis(c *gin.Context) {
	var req startAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errs.Wrap(errs.KindInvalidArgument, "invalid request body", err))
		return
	}

	ticker, err := validation.ValidateTicker(req.Ticker)
	if err != nil {
		s.respondError(c, err)
		return
	}
	analysisDate, err := validation.ValidateAnalysisDate(req.AnalysisDate)
	if err != nil {
		s.respondError(c, err)
		return
	}

	id := s.identity(c)
	userID := id.UserID
	sessionID, err := s.analyzer.StartAnalysis(c.Request.Context(), id.Username, &userID, ticker, analysisDate, req.Config)
	if err != nil {
		s.respondError(c, err)
		return
	}

	respondData(c, http.StatusOK, gin.H{"session_id": sessionID})
}

// parseSessionID parses the path parameter. A malformed id cannot name any
// session, so it surfaces as NotFound rather than a validation error.
func parseSessionID(c *gin.Context) (uuid.UUID, error) {
	raw := c.Param("session_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.Newf(errs.KindNotFound, "session %q not found", raw)
	}
	return id, nil
}

// visibleSession loads a session and enforces ownership. Non-owners get
// NotFound instead of Forbidden so session ids are not probeable.
func (s *Server) visibleSession(c *gin.Context, sessionID uuid.UUID) (*db.AnalysisSession, error) {
	session, err := s.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	id := s.identity(c)
	if !id.IsAdmin && session.OwnerUsername != id.Username {
		return nil, errs.Newf(errs.KindNotFound, "session %s not found", sessionID)
	}
	return session, nil
}

// handleGetReport returns the session with all recorded sections and agent
// executions, including partial output of failed or canceled runs.
func (s *Server) handleGetReport(c *gin.Context) {
	sessionID, err := parseSessionID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := s.visibleSession(c, sessionID); err != nil {
		s.respondError(c, err)
		return
	}

	report, err := s.store.GetFullReport(c.Request.Context(), sessionID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, report)
}

// handleListSessions lists the caller's sessions, newest first.
func (s *Server) handleListSessions(c *gin.Context) {
	filter := db.SessionFilter{
		Owner: s.identity(c).Username,
	}

	if raw := c.Query("ticker"); raw != "" {
		ticker, err := validation.ValidateTicker(raw)
		if err != nil {
			s.respondError(c, err)
			return
		}
		filter.Ticker = ticker
	}
	if raw := c.Query("start_date"); raw != "" {
		d, err := validation.ValidateAnalysisDate(raw)
		if err != nil {
			s.respondError(c, err)
			return
		}
		filter.StartDate = &d
	}
	if raw := c.Query("end_date"); raw != "" {
		d, err := validation.ValidateAnalysisDate(raw)
		if err != nil {
			s.respondError(c, err)
			return
		}
		filter.EndDate = &d
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	filter.Limit = validation.ClampLimit(limit, defaultListLimit, maxListLimit)

	sessions, err := s.store.ListSessions(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*db.SessionSummary{}
	}
	respondData(c, http.StatusOK, sessions)
}

// handleCancelSession requests cooperative cancellation. The run finalizes
// asynchronously; the caller observes the terminal status via the report or
// the events stream.
func (s *Server) handleCancelSession(c *gin.Context) {
	sessionID, err := parseSessionID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := s.visibleSession(c, sessionID); err != nil {
		s.respondError(c, err)
		return
	}

	if err := s.analyzer.Cancel(c.Request.Context(), sessionID); err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"status": "canceling"})
}

// handleDeleteSession removes an owned session; sections and executions
// cascade in the store.
func (s *Server) handleDeleteSession(c *gin.Context) {
	sessionID, err := parseSessionID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if err := s.store.DeleteSession(c.Request.Context(), sessionID, s.identity(c).Username); err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"deleted": true})
}

// handleSessionEvents streams pipeline progress as server-sent events. A
// subscriber attaching mid-run first receives the replayed history; for a
// session already past its linger window the stream is synthesized from the
// store so late clients still observe a terminal event.
func (s *Server) handleSessionEvents(c *gin.Context) {
	sessionID, err := parseSessionID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	session, err := s.visibleSession(c, sessionID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	if session.Status.Terminal() && len(s.bus.History(sessionID.String())) == 0 {
		s.replayFromStore(c, session)
		return
	}

	events, cancel := s.bus.Subscribe(sessionID.String())
	defer cancel()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			c.Writer.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeEvent(c.Writer, ev)
			c.Writer.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

// replayFromStore synthesizes the event stream of a finished session from
// its persisted sections.
func (s *Server) replayFromStore(c *gin.Context, session *db.AnalysisSession) {
	report, err := s.store.GetFullReport(c.Request.Context(), session.SessionID)
	if err != nil {
		return
	}

	seq := 0
	for _, section := range report.Sections {
		writeEvent(c.Writer, progress.Event{
			SessionID: session.SessionID.String(),
			Seq:       seq,
			Timestamp: section.CreatedAt,
			Kind:      progress.EventSectionAppended,
			Payload: map[string]any{
				"section": string(section.SectionType),
				"agent":   section.AgentName,
			},
		})
		seq++
	}

	payload := map[string]any{"status": string(session.Status)}
	if session.FinalDecision != nil {
		payload["final_decision"] = string(*session.FinalDecision)
	}
	if session.Confidence != nil {
		payload["confidence"] = *session.Confidence
	}
	terminal := time.Now().UTC()
	if session.CompletedAt != nil {
		terminal = *session.CompletedAt
	}
	writeEvent(c.Writer, progress.Event{
		SessionID: session.SessionID.String(),
		Seq:       seq,
		Timestamp: terminal,
		Kind:      progress.EventTerminal,
		Payload:   payload,
	})
	c.Writer.Flush()
}

func writeEvent(w io.Writer, ev progress.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data)
}
