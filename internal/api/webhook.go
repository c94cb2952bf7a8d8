package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cardrelay/cardrelay/internal/database"
	"github.com/cardrelay/cardrelay/internal/ingest"
)

// webhookRequest is the ingestion payload posted by upstream forwarders
// (SMS forwarding apps, mail hooks). received_at is the sender's claimed
// timestamp and is advisory only.
type webhookRequest struct {
	Content    string    `json:"content"`
	Sender     string    `json:"sender"`
	SourceType string    `json:"source_type"`
	ReceivedAt time.Time `json:"received_at"`
}

type webhookResponse struct {
	Success   bool `json:"success"`
	MessageID uint `json:"message_id"`
}

// handleWebhook serves POST /api/webhook/:webhookKey. The key is the user's
// ingestion credential, compared by equality.
func (s *Server) handleWebhook(c echo.Context) error {
	key := c.Param("webhookKey")

	user, err := s.db.GetUserByWebhookKey(key)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "failed to verify webhook key")
	}
	if user == nil {
		return fail(c, http.StatusUnauthorized, "unknown webhook key")
	}

	var req webhookRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return fail(c, http.StatusBadRequest, "content is required")
	}
	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = database.SourceSMS
	}
	if sourceType != database.SourceSMS && sourceType != database.SourceEmail {
		return fail(c, http.StatusBadRequest, "source_type must be SMS or EMAIL")
	}

	msg, err := s.processor.Ingest(ingest.Incoming{
		Username:      user.Username,
		Content:       req.Content,
		SourceType:    sourceType,
		Sender:        req.Sender,
		SmsReceivedAt: req.ReceivedAt,
	})
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, webhookResponse{Success: true, MessageID: msg.ID})
}
