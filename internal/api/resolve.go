package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cardrelay/cardrelay/internal/database"
	"github.com/cardrelay/cardrelay/internal/relay"
)

// resolveResponse is the public resolve contract. The body is always
// well-formed, success or not; polling consumers depend on that.
type resolveResponse struct {
	Success     bool              `json:"success"`
	Message     string            `json:"message"`
	FirstUsedAt *time.Time        `json:"first_used_at"`
	ExpiryDays  *int              `json:"expiry_days"`
	IsExpired   bool              `json:"is_expired"`
	RawMessage  *database.Message `json:"raw_message"`
	Error       string            `json:"error,omitempty"`
}

// handleResolve serves GET /api/resolve/:cardKey?phone=
func (s *Server) handleResolve(c echo.Context) error {
	cardKey := c.Param("cardKey")
	phone := c.QueryParam("phone")

	result := s.resolver.Resolve(cardKey, phone)
	if !result.Success {
		status := http.StatusInternalServerError
		if errors.Is(result.Err, relay.ErrNotFound) {
			status = http.StatusNotFound
		}
		return c.JSON(status, resolveResponse{
			Success: false,
			Error:   result.Err.Error(),
		})
	}

	return c.JSON(http.StatusOK, resolveResponse{
		Success:     true,
		Message:     result.Message,
		FirstUsedAt: result.FirstUsedAt,
		ExpiryDays:  result.ExpiryDays,
		IsExpired:   result.IsExpired,
		RawMessage:  result.RawMessage,
	})
}
