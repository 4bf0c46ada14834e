package api

import (
	"errors"
	"html"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
	"github.com/devicelab-dev/aiqa-agent/pkg/report"
)

const userKey = "userID"

// requireToken verifies the bearer token and stores the user id on the
// context. Browsers cannot set headers on WebSocket upgrades, so a token
// query parameter is accepted too.
func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if token == "" {
			token = c.QueryParam("token")
		}
		claims, err := s.auth.Verify(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
		}
		c.Set(userKey, claims.UserID)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userKey).(string)
	return id
}

// sanitize strips markup from free text before it reaches plans, logs and
// reports. Entities are decoded again so quotes in commands survive.
func (s *Server) sanitize(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, report.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidPlan), errors.Is(err, core.ErrInvalidConfig), errors.Is(err, core.ErrInvalidAction):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c echo.Context, err error) error {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		logger.Error("%s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(code, map[string]string{"error": err.Error()})
}

// handleError renders echo's own errors (404 routes, bad binds) as JSON.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		_ = c.JSON(he.Code, map[string]string{"error": msg})
		return
	}
	_ = fail(c, err)
}
