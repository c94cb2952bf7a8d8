package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cardrelay/cardrelay/internal/database"
)

// handleListTemplates serves GET /api/templates
func (s *Server) handleListTemplates(c echo.Context) error {
	templates, err := s.db.ListTemplates()
	if err != nil {
		return fail(c, http.StatusInternalServerError, "failed to list templates")
	}
	return c.JSON(http.StatusOK, templates)
}

type createTemplateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleCreateTemplate serves POST /api/templates
func (s *Server) handleCreateTemplate(c echo.Context) error {
	var req createTemplateRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}

	tmpl, err := s.db.CreateTemplate(req.Name, req.Description)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, tmpl)
}

// handleDeleteTemplate serves DELETE /api/templates/:id. Card-links keep
// their denormalized app name and resolve unfiltered afterwards.
func (s *Server) handleDeleteTemplate(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid template id")
	}
	if err := s.db.DeleteTemplate(uint(id)); err != nil {
		return fail(c, http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type createRuleRequest struct {
	Type        string `json:"type"`
	Mode        string `json:"mode"`
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// handleCreateRule serves POST /api/templates/:id/rules. Malformed patterns
// are rejected here, eagerly, so resolution never evaluates a broken rule.
func (s *Server) handleCreateRule(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid template id")
	}

	var req createRuleRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}

	rule, err := s.db.CreateRule(uint(id), req.Type, req.Mode, req.Pattern, req.Description, req.Order)
	if errors.Is(err, database.ErrInvalidRule) {
		return fail(c, http.StatusUnprocessableEntity, err.Error())
	}
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rule)
}

// handleDeleteRule serves DELETE /api/templates/:id/rules/:ruleID
func (s *Server) handleDeleteRule(c echo.Context) error {
	ruleID, err := strconv.ParseUint(c.Param("ruleID"), 10, 32)
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid rule id")
	}
	if err := s.db.DeleteRule(uint(ruleID)); err != nil {
		return fail(c, http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
