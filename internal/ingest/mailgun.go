package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cardrelay/cardrelay/internal/database"
	"github.com/mailgun/mailgun-go/v4"
)

// Notifier sends new-message alerts via Mailgun
type Notifier struct {
	mg          mailgun.Mailgun
	domain      string
	fromAddress string
}

// NewNotifier creates a Mailgun notifier. An empty API key means alerting is
// not configured; the caller gets (nil, nil) and skips alerts entirely.
func NewNotifier(apiKey, domain, fromAddress string) (*Notifier, error) {
	if apiKey == "" {
		return nil, nil
	}
	if domain == "" {
		return nil, fmt.Errorf("mailgun domain is required when an API key is set")
	}
	if fromAddress == "" {
		return nil, fmt.Errorf("mailgun from address is required when an API key is set")
	}
	if !strings.HasSuffix(fromAddress, "@"+domain) {
		return nil, fmt.Errorf("mailgun from address (%s) must use the same domain as the mailgun domain (%s)", fromAddress, domain)
	}

	log.Printf("Initializing Mailgun with domain: %s, from address: %s", domain, fromAddress)
	return &Notifier{
		mg:          mailgun.NewMailgun(domain, apiKey),
		domain:      domain,
		fromAddress: fromAddress,
	}, nil
}

// SendMessageAlert emails a short notification about a newly ingested message
func (n *Notifier) SendMessageAlert(email string, msg *database.Message) error {
	subject := fmt.Sprintf("New %s message from %s", strings.ToLower(msg.SourceType), msg.Sender)

	preview := msg.SmsContent
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	body := fmt.Sprintf(`A new message arrived for account %s.

From:     %s
Received: %s

%s
`, msg.Username, msg.Sender, msg.SystemReceivedAt.Format(time.RFC1123), preview)

	message := n.mg.NewMessage(n.fromAddress, subject, body, email)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, id, err := n.mg.Send(ctx, message)
	if err != nil {
		if strings.Contains(err.Error(), "401") {
			return fmt.Errorf("unauthorized: please verify your Mailgun API key and domain settings")
		}
		return fmt.Errorf("failed to send alert: %w", err)
	}
	log.Printf("Sent message alert to %s with message ID: %s", email, id)
	return nil
}
