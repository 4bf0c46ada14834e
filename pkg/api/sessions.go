package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/session"
)

// AuthRequest asks for a session token.
type AuthRequest struct {
	UserID string `json:"userId"`
}

// CommandRequest carries a free-text command.
type CommandRequest struct {
	Command string `json:"command"`
	Suite   string `json:"suite,omitempty"`
}

// Authenticate issues a token for a user id.
func (s *Server) Authenticate(c echo.Context) error {
	var req AuthRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	user := s.sanitize(req.UserID)
	if user == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "userId is required"})
	}
	token, err := s.auth.Authenticate(user)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// PreviewPlan returns the plan a command would run, without starting it.
func (s *Server) PreviewPlan(c echo.Context) error {
	req, err := s.bindCommand(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	p, err := s.planner.Generate(req.Command)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// StartSession plans a command and starts executing it.
func (s *Server) StartSession(c echo.Context) error {
	req, err := s.bindCommand(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	snap, err := s.controller.Start(userID(c), req.Command, req.Suite)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, snap)
}

// GetSession returns a session snapshot.
func (s *Server) GetSession(c echo.Context) error {
	return s.snapshot(c, func(user, id string) (session.Snapshot, error) {
		return s.controller.Status(user, id)
	})
}

// GetSessionSteps returns the step list of a session.
func (s *Server) GetSessionSteps(c echo.Context) error {
	steps, err := s.controller.Steps(userID(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"steps": steps,
		"count": len(steps),
	})
}

// PauseSession pauses a running session.
func (s *Server) PauseSession(c echo.Context) error {
	return s.snapshot(c, s.controller.Pause)
}

// ResumeSession resumes a paused session.
func (s *Server) ResumeSession(c echo.Context) error {
	return s.snapshot(c, s.controller.Resume)
}

// AbortSession aborts a session.
func (s *Server) AbortSession(c echo.Context) error {
	return s.snapshot(c, s.controller.Abort)
}

// RerunSession restarts a session's plan from the first step.
func (s *Server) RerunSession(c echo.Context) error {
	return s.snapshot(c, s.controller.Rerun)
}

// StepSession executes a single step and leaves the session paused.
func (s *Server) StepSession(c echo.Context) error {
	return s.snapshot(c, func(user, id string) (session.Snapshot, error) {
		return s.controller.Step(c.Request().Context(), user, id)
	})
}

func (s *Server) snapshot(c echo.Context, op func(user, id string) (session.Snapshot, error)) error {
	snap, err := op(userID(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) bindCommand(c echo.Context) (CommandRequest, error) {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return req, core.ErrInvalidPlan.WithMessage("invalid request body")
	}
	req.Command = s.sanitize(req.Command)
	req.Suite = s.sanitize(req.Suite)
	if req.Command == "" {
		return req, core.ErrInvalidPlan.WithMessage("command is required")
	}
	return req, nil
}
