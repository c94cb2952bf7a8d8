package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cardrelay/cardrelay/internal/database"
)

// Credential headers for the management API. Sessions and cookies are out of
// scope; every request carries the credentials.
const (
	headerUsername = "X-Auth-Username"
	headerPassword = "X-Auth-Password"
)

const userContextKey = "authUser"

// requireUser authenticates the request's credential headers against the
// stored bcrypt hash and stashes the user on the context
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		username := c.Request().Header.Get(headerUsername)
		password := c.Request().Header.Get(headerPassword)
		if username == "" || password == "" {
			return fail(c, http.StatusUnauthorized, "missing credentials")
		}

		user, err := s.db.Authenticate(username, password)
		if err != nil {
			return fail(c, http.StatusInternalServerError, "failed to verify credentials")
		}
		if user == nil {
			return fail(c, http.StatusUnauthorized, "invalid username or password")
		}

		c.Set(userContextKey, user)
		return next(c)
	}
}

// requireAdmin gates admin-only routes
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !currentUser(c).IsAdmin {
			return fail(c, http.StatusForbidden, "admin access required")
		}
		return next(c)
	}
}

// requireTemplateManager gates template routes; admins always qualify
func (s *Server) requireTemplateManager(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := currentUser(c)
		if !user.IsAdmin && !user.CanManageTemplates {
			return fail(c, http.StatusForbidden, "template management access required")
		}
		return next(c)
	}
}

func currentUser(c echo.Context) *database.User {
	return c.Get(userContextKey).(*database.User)
}
