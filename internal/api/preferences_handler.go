package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tradecouncil/tradecouncil/internal/db"
	"github.com/tradecouncil/tradecouncil/internal/errs"
)

type putPreferenceRequest struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Category *string         `json:"category,omitempty"`
}

// handleListPreferences returns the caller's preferences, optionally
// filtered by category.
func (s *Server) handleListPreferences(c *gin.Context) {
	prefs, err := s.store.ListPreferences(c.Request.Context(), s.identity(c).UserID, c.Query("category"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if prefs == nil {
		prefs = []*db.UserPreference{}
	}
	respondData(c, http.StatusOK, prefs)
}

// handlePutPreference upserts one preference with last-write-wins
// semantics. The value is opaque JSON stored verbatim.
func (s *Server) handlePutPreference(c *gin.Context) {
	var req putPreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errs.Wrap(errs.KindInvalidArgument, "invalid request body", err))
		return
	}
	if req.Key == "" {
		s.respondError(c, errs.New(errs.KindInvalidArgument, "key is required"))
		return
	}
	if len(req.Value) == 0 || !json.Valid(req.Value) {
		s.respondError(c, errs.New(errs.KindInvalidArgument, "value must be valid JSON"))
		return
	}

	if err := s.store.UpsertPreference(c.Request.Context(), s.identity(c).UserID, req.Key, req.Value, req.Category); err != nil {
		s.respondError(c, err)
		return
	}
	respondMessage(c, "preference saved")
}
