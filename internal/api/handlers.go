package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cardrelay/cardrelay/internal/database"
)

// handleListMessages serves GET /api/messages
func (s *Server) handleListMessages(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	messages, err := s.db.ListMessages(currentUser(c).Username, limit)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "failed to list messages")
	}
	return c.JSON(http.StatusOK, messages)
}

// handleListCardLinks serves GET /api/cardlinks
func (s *Server) handleListCardLinks(c echo.Context) error {
	links, err := s.db.ListCardLinks(currentUser(c).Username)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "failed to list card-links")
	}
	return c.JSON(http.StatusOK, links)
}

type createCardLinkRequest struct {
	AppName    string   `json:"app_name"`
	Phone      string   `json:"phone"`
	TemplateID *uint    `json:"template_id"`
	ExpiryDays *int     `json:"expiry_days"`
	Tags       []string `json:"tags"`
}

// handleCreateCardLink serves POST /api/cardlinks
func (s *Server) handleCreateCardLink(c echo.Context) error {
	var req createCardLinkRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}

	link, err := s.db.CreateCardLink(currentUser(c).Username, req.AppName, req.Phone,
		req.TemplateID, req.ExpiryDays, req.Tags)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, link)
}

// handleDeleteCardLink serves DELETE /api/cardlinks/:cardKey. Used links may
// only be removed by admins; they are an audit trail otherwise.
func (s *Server) handleDeleteCardLink(c echo.Context) error {
	user := currentUser(c)
	err := s.db.DeleteCardLink(c.Param("cardKey"), user.Username, user.IsAdmin)
	if errors.Is(err, database.ErrCardLinkInUse) {
		return fail(c, http.StatusConflict, "card-link has been used and cannot be deleted")
	}
	if errors.Is(err, database.ErrNotOwner) {
		return fail(c, http.StatusForbidden, "card-link belongs to another user")
	}
	if err != nil {
		return fail(c, http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type updateTagsRequest struct {
	Tags []string `json:"tags"`
}

// handleUpdateTags serves PUT /api/tags, replacing the caller's card-link
// tag vocabulary
func (s *Server) handleUpdateTags(c echo.Context) error {
	var req updateTagsRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}

	if err := s.db.UpdateCardLinkTags(currentUser(c).Username, req.Tags); err != nil {
		return fail(c, http.StatusInternalServerError, "failed to update tags")
	}
	return c.NoContent(http.StatusNoContent)
}

type createEndpointRequest struct {
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Headers     map[string]string `json:"headers"`
}

// handleListEndpoints serves GET /api/endpoints
func (s *Server) handleListEndpoints(c echo.Context) error {
	endpoints, err := s.db.ListPushEndpoints(currentUser(c).Username)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "failed to list endpoints")
	}
	return c.JSON(http.StatusOK, endpoints)
}

// handleCreateEndpoint serves POST /api/endpoints
func (s *Server) handleCreateEndpoint(c echo.Context) error {
	var req createEndpointRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}

	endpoint, err := s.db.CreatePushEndpoint(currentUser(c).Username, req.URL, req.Description, req.Headers)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, endpoint)
}

// handleDeleteEndpoint serves DELETE /api/endpoints/:id
func (s *Server) handleDeleteEndpoint(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid endpoint id")
	}
	if err := s.db.DeletePushEndpoint(uint(id), currentUser(c).Username); err != nil {
		return fail(c, http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// handleListDeliveries serves GET /api/deliveries
func (s *Server) handleListDeliveries(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	logs, err := s.db.ListDeliveryLogs(currentUser(c).Username, limit)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "failed to list deliveries")
	}
	return c.JSON(http.StatusOK, logs)
}
