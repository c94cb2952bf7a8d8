// Package ingest appends incoming SMS/email messages to the store and fans
// them out: retention pruning, push forwarding to user-registered callback
// endpoints, and optional Mailgun alerts to bound addresses.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/cardrelay/cardrelay/internal/database"
)

// BackoffConfig holds configuration for exponential backoff
type BackoffConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Randomization float64
}

// ProcessorConfig holds configuration for the ingest processor
type ProcessorConfig struct {
	MaxBodySize   int64
	RetainPerUser int
	RetryAttempts int
	RetryDelay    int
	Backoff       BackoffConfig

	// Async controls whether fan-out runs in a goroutine. Tests set it to
	// false to observe delivery synchronously.
	Async bool
}

// Processor handles message ingestion and fan-out
type Processor struct {
	db       *database.DB
	config   ProcessorConfig
	notifier *Notifier
}

// New creates a new ingest processor. notifier may be nil when Mailgun
// alerts are not configured.
func New(db *database.DB, config ProcessorConfig, notifier *Notifier) *Processor {
	if config.Backoff.InitialDelay == 0 {
		config.Backoff.InitialDelay = 1 * time.Second
	}
	if config.Backoff.MaxDelay == 0 {
		config.Backoff.MaxDelay = 30 * time.Second
	}
	if config.Backoff.Multiplier == 0 {
		config.Backoff.Multiplier = 2.0
	}
	if config.Backoff.Randomization == 0 {
		config.Backoff.Randomization = 0.2 // 20% randomization
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}

	return &Processor{
		db:       db,
		config:   config,
		notifier: notifier,
	}
}

// Incoming is one message handed over by an ingestion surface (webhook or
// SMTP). SmsReceivedAt is whatever the sender claimed; the store stamps the
// trusted ingestion time itself.
type Incoming struct {
	Username      string
	Content       string
	SourceType    string
	Sender        string
	SmsReceivedAt time.Time
}

// PushPayload is the JSON body forwarded to push endpoints
type PushPayload struct {
	Data   PushMessage `json:"data"`
	Source string      `json:"source"`
}

// PushMessage carries the forwarded message fields
type PushMessage struct {
	ID               uint      `json:"id"`
	Username         string    `json:"username"`
	Content          string    `json:"content"`
	SourceType       string    `json:"source_type"`
	Sender           string    `json:"sender"`
	SmsReceivedAt    time.Time `json:"sms_received_at"`
	SystemReceivedAt time.Time `json:"system_received_at"`
}

// Ingest validates and appends a message, then fans it out. The append is
// synchronous so the caller can report storage failures; forwarding and
// alerting run in the background.
func (p *Processor) Ingest(in Incoming) (*database.Message, error) {
	if in.Content == "" {
		return nil, fmt.Errorf("message content is required")
	}
	if p.config.MaxBodySize > 0 && int64(len(in.Content)) > p.config.MaxBodySize {
		return nil, fmt.Errorf("message size %d bytes exceeds maximum allowed size of %d bytes",
			len(in.Content), p.config.MaxBodySize)
	}

	msg := &database.Message{
		Username:      in.Username,
		SmsContent:    in.Content,
		SourceType:    in.SourceType,
		Sender:        in.Sender,
		SmsReceivedAt: in.SmsReceivedAt,
	}
	if err := p.db.AppendMessage(msg); err != nil {
		return nil, err
	}

	if p.config.RetainPerUser > 0 {
		pruned, err := p.db.PruneMessages(in.Username, p.config.RetainPerUser)
		if err != nil {
			log.Printf("Failed to prune messages for %s: %v", in.Username, err)
		} else if pruned > 0 {
			log.Printf("Pruned %d messages for %s past retention cap %d", pruned, in.Username, p.config.RetainPerUser)
		}
	}

	if p.config.Async {
		go p.fanOut(msg)
	} else {
		p.fanOut(msg)
	}

	return msg, nil
}

// fanOut forwards a stored message to the owner's push endpoints and sends
// email alerts
func (p *Processor) fanOut(msg *database.Message) {
	endpoints, err := p.db.ListPushEndpoints(msg.Username)
	if err != nil {
		log.Printf("Failed to list push endpoints for %s: %v", msg.Username, err)
		return
	}

	payload := PushPayload{
		Data: PushMessage{
			ID:               msg.ID,
			Username:         msg.Username,
			Content:          msg.SmsContent,
			SourceType:       msg.SourceType,
			Sender:           msg.Sender,
			SmsReceivedAt:    msg.SmsReceivedAt,
			SystemReceivedAt: msg.SystemReceivedAt,
		},
		Source: "cardrelay",
	}

	for _, endpoint := range endpoints {
		p.forward(endpoint, msg, payload)
	}

	if p.notifier != nil {
		user, err := p.db.GetUserByUsername(msg.Username)
		if err != nil || user == nil {
			log.Printf("Failed to load user %s for alerting: %v", msg.Username, err)
			return
		}
		for _, bound := range user.Emails {
			if err := p.notifier.SendMessageAlert(bound.Email, msg); err != nil {
				log.Printf("Failed to send alert to %s: %v", bound.Email, err)
			}
		}
	}
}

// forward delivers the payload to one endpoint with retries and exponential
// backoff, logging the final outcome
func (p *Processor) forward(endpoint database.PushEndpoint, msg *database.Message, payload PushPayload) {
	var lastErr error
	for attempt := 0; attempt < p.config.RetryAttempts; attempt++ {
		if err := p.sendToEndpoint(endpoint, payload); err != nil {
			lastErr = err
			backoff := p.calculateBackoff(attempt)
			log.Printf("Attempt %d/%d to %q failed: %v. Retrying in %v...",
				attempt+1, p.config.RetryAttempts, endpoint.URL, err, backoff)
			time.Sleep(backoff)
			continue
		}

		if err := p.db.LogDelivery(endpoint.ID, msg.Username, msg.ID, "success", ""); err != nil {
			log.Printf("Warning: failed to log successful delivery: %v", err)
		}
		return
	}

	if err := p.db.LogDelivery(endpoint.ID, msg.Username, msg.ID, "error", lastErr.Error()); err != nil {
		log.Printf("Warning: failed to log delivery error: %v", err)
	}
	log.Printf("Failed to forward message %d to %q after %d attempts: %v",
		msg.ID, endpoint.URL, p.config.RetryAttempts, lastErr)
}

// calculateBackoff calculates the next backoff duration with jitter
func (p *Processor) calculateBackoff(attempt int) time.Duration {
	multiplier := math.Pow(p.config.Backoff.Multiplier, float64(attempt))
	delay := time.Duration(float64(p.config.Backoff.InitialDelay) * multiplier)

	if delay > p.config.Backoff.MaxDelay {
		delay = p.config.Backoff.MaxDelay
	}

	jitterRange := float64(delay) * p.config.Backoff.Randomization
	jitter := time.Duration(rand.Float64() * jitterRange)
	return delay + jitter
}

// sendToEndpoint posts the payload to a single callback endpoint
func (p *Processor) sendToEndpoint(endpoint database.PushEndpoint, payload PushPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint.URL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if _, hasContentType := endpoint.Headers["Content-Type"]; !hasContentType {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range endpoint.Headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
