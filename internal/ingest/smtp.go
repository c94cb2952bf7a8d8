package ingest

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/cardrelay/cardrelay/internal/database"
	"github.com/emersion/go-smtp"
)

// SMTPConfig holds settings for the inbound SMTP listener
type SMTPConfig struct {
	Host         string
	Port         int
	Domain       string
	MaxMailSize  int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// The Backend implements SMTP server methods
type Backend struct {
	processor *Processor
}

// NewBackend creates a new SMTP backend
func NewBackend(processor *Processor) *Backend {
	return &Backend{processor: processor}
}

// NewSession implements smtp.Backend interface
func (bkd *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	remoteAddr := c.Conn().RemoteAddr().String()
	log.Printf("New SMTP session started from %s", remoteAddr)
	return &Session{
		processor:  bkd.processor,
		remoteAddr: remoteAddr,
	}, nil
}

// A Session is returned after EHLO
type Session struct {
	processor  *Processor
	from       string
	to         []string
	remoteAddr string
}

func (s *Session) AuthPlain(username, password string) error {
	// Inbound mail is accepted for bound addresses only; auth is a no-op
	return nil
}

func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

// Data reads the message, extracts the plain body and claimed date, and
// ingests one message per recipient whose address is bound to a user.
// Unbound recipients are dropped, not bounced.
func (s *Session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read email data: %w", err)
	}

	subject, date, body := parseMail(string(data))

	for _, recipient := range s.to {
		user, err := s.processor.db.GetUserByBoundEmail(recipient)
		if err != nil {
			log.Printf("Failed to look up recipient %q: %v", recipient, err)
			continue
		}
		if user == nil {
			log.Printf("No user bound to %q - dropping email from %q with subject %q", recipient, s.from, subject)
			continue
		}

		content := body
		if content == "" {
			content = subject
		}
		if _, err := s.processor.Ingest(Incoming{
			Username:      user.Username,
			Content:       content,
			SourceType:    database.SourceEmail,
			Sender:        s.from,
			SmsReceivedAt: date,
		}); err != nil {
			log.Printf("Failed to ingest email for %s: %v", user.Username, err)
			return fmt.Errorf("failed to ingest email for %s: %w", recipient, err)
		}
		log.Printf("Ingested email from %q for user %s", s.from, user.Username)
	}

	return nil
}

// parseMail splits a raw RFC 5322 message into subject, claimed date and body
func parseMail(raw string) (subject string, date time.Time, body string) {
	date = time.Now()
	lines := strings.Split(raw, "\r\n")

	var bodyStart int
	var currentHeader string
	for i, line := range lines {
		if line == "" {
			bodyStart = i + 1
			break
		}

		// Header continuation lines fold into the previous header
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if strings.EqualFold(currentHeader, "Subject") {
				subject += " " + strings.TrimSpace(line)
			}
			continue
		}

		if idx := strings.Index(line, ":"); idx > 0 {
			currentHeader = strings.TrimSpace(line[:idx])
			value := strings.TrimSpace(line[idx+1:])
			switch {
			case strings.EqualFold(currentHeader, "Subject"):
				subject = value
			case strings.EqualFold(currentHeader, "Date"):
				if parsed, err := time.Parse(time.RFC1123Z, value); err == nil {
					date = parsed
				}
			}
		}
	}

	body = strings.Join(lines[bodyStart:], "\r\n")
	return subject, date, strings.TrimSpace(body)
}

func (s *Session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *Session) Logout() error {
	return nil
}

// StartSMTPServer starts the inbound SMTP listener and blocks
func StartSMTPServer(processor *Processor, cfg SMTPConfig) error {
	be := NewBackend(processor)
	srv := smtp.NewServer(be)

	srv.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv.Domain = cfg.Domain
	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout
	srv.MaxMessageBytes = cfg.MaxMailSize
	srv.MaxRecipients = 50
	srv.AllowInsecureAuth = true

	log.Printf("Starting SMTP server at %s (domain %s)", srv.Addr, srv.Domain)
	return srv.ListenAndServe()
}
