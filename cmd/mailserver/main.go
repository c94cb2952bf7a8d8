package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardrelay/cardrelay/internal/config"
	"github.com/cardrelay/cardrelay/internal/database"
	"github.com/cardrelay/cardrelay/internal/ingest"
)

func main() {
	// Configure logging
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.SetPrefix("[mailserver] ")

	// Create context that listens for the interrupt signal from the OS
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database
	driver, dsn, migrateURL := cfg.DatabaseDSN()
	db, err := database.New(&database.Config{
		Driver:     driver,
		DSN:        dsn,
		MigrateURL: migrateURL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize mail alerting (optional)
	notifier, err := ingest.NewNotifier(cfg.Mailgun.APIKey, cfg.Mailgun.Domain, cfg.Mailgun.FromAddress)
	if err != nil {
		log.Fatalf("Failed to initialize Mailgun notifier: %v", err)
	}

	processor := ingest.New(db, ingest.ProcessorConfig{
		MaxBodySize:   cfg.Relay.MaxBodySize,
		RetainPerUser: cfg.Relay.RetainPerUser,
		RetryAttempts: cfg.Relay.MaxRetries,
		RetryDelay:    cfg.Relay.RetryDelay,
		Async:         true,
	}, notifier)

	go func() {
		if err := ingest.StartSMTPServer(processor, ingest.SMTPConfig{
			Host:         cfg.MailServer.Host,
			Port:         cfg.MailServer.Port,
			Domain:       cfg.MailServer.Domain,
			MaxMailSize:  cfg.MailServer.MaxMailSize,
			ReadTimeout:  time.Duration(cfg.MailServer.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.MailServer.WriteTimeout) * time.Second,
		}); err != nil {
			log.Printf("SMTP server error: %v", err)
			stop()
		}
	}()
	log.Printf("Started SMTP server on %s:%d", cfg.MailServer.Host, cfg.MailServer.Port)

	// Keep the application running until we receive an interrupt signal
	<-ctx.Done()
	log.Println("Shutting down mail server...")
}
