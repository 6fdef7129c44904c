package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tradecouncil/tradecouncil/internal/errs"
)

// envelope is the uniform response shape for every endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func respondMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, envelope{Success: true, Message: message})
}

// respondError maps the internal error taxonomy to an HTTP status. Internal
// errors never leak their cause in production; debug mode includes the kind
// so failures are diagnosable without log access.
func (s *Server) respondError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	msg := err.Error()

	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("Request failed")
	}

	if errs.KindOf(err) == errs.KindInternal && !s.debug {
		msg = "internal error"
	}

	c.JSON(status, envelope{Success: false, Error: msg})
}
