package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// handleListUsers serves GET /api/admin/users
func (s *Server) handleListUsers(c echo.Context) error {
	users, err := s.db.ListUsers()
	if err != nil {
		return fail(c, http.StatusInternalServerError, "failed to list users")
	}

	// Never leak password hashes over the wire
	type userView struct {
		Username           string   `json:"username"`
		WebhookKey         string   `json:"webhook_key"`
		IsAdmin            bool     `json:"is_admin"`
		CanManageTemplates bool     `json:"can_manage_templates"`
		ShowFooter         bool     `json:"show_footer"`
		ShowAds            bool     `json:"show_ads"`
		Emails             []string `json:"emails"`
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		emails := make([]string, 0, len(u.Emails))
		for _, e := range u.Emails {
			emails = append(emails, e.Email)
		}
		views = append(views, userView{
			Username:           u.Username,
			WebhookKey:         u.WebhookKey,
			IsAdmin:            u.IsAdmin,
			CanManageTemplates: u.CanManageTemplates,
			ShowFooter:         u.ShowFooter,
			ShowAds:            u.ShowAds,
			Emails:             emails,
		})
	}
	return c.JSON(http.StatusOK, views)
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// handleCreateUser serves POST /api/admin/users
func (s *Server) handleCreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}

	user, err := s.db.CreateUser(req.Username, req.Password, req.IsAdmin)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"username":    user.Username,
		"webhook_key": user.WebhookKey,
	})
}

type updateFlagsRequest struct {
	IsAdmin            bool `json:"is_admin"`
	CanManageTemplates bool `json:"can_manage_templates"`
	ShowFooter         bool `json:"show_footer"`
	ShowAds            bool `json:"show_ads"`
}

// handleUpdateUserFlags serves PUT /api/admin/users/:username/flags
func (s *Server) handleUpdateUserFlags(c echo.Context) error {
	var req updateFlagsRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}

	err := s.db.UpdateUserFlags(c.Param("username"), req.IsAdmin, req.CanManageTemplates,
		req.ShowFooter, req.ShowAds)
	if err != nil {
		return fail(c, http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type bindEmailRequest struct {
	Email string `json:"email"`
}

// handleBindEmail serves POST /api/admin/users/:username/emails
func (s *Server) handleBindEmail(c echo.Context) error {
	var req bindEmailRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return fail(c, http.StatusBadRequest, "email is required")
	}

	if err := s.db.BindEmail(c.Param("username"), req.Email); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// handleRotateWebhookKey serves POST /api/admin/users/:username/rotate-key
func (s *Server) handleRotateWebhookKey(c echo.Context) error {
	key, err := s.db.RotateWebhookKey(c.Param("username"))
	if err != nil {
		return fail(c, http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"webhook_key": key})
}

// handleDeleteUser serves DELETE /api/admin/users/:username
func (s *Server) handleDeleteUser(c echo.Context) error {
	if c.Param("username") == currentUser(c).Username {
		return fail(c, http.StatusBadRequest, "cannot delete your own account")
	}
	if err := s.db.DeleteUser(c.Param("username")); err != nil {
		return fail(c, http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
