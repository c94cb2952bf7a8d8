package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardrelay/cardrelay/internal/api"
	"github.com/cardrelay/cardrelay/internal/config"
	"github.com/cardrelay/cardrelay/internal/database"
	"github.com/cardrelay/cardrelay/internal/ingest"
	"github.com/cardrelay/cardrelay/internal/relay"
)

func main() {
	// Configure logging
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.SetPrefix("[apiserver] ")

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

	if err := seedAdmin(db, cfg); err != nil {
		log.Fatalf("Failed to seed admin user: %v", err)
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

	server := api.New(db, relay.New(db), processor)
	e := server.Echo()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.APIServer.Host, cfg.APIServer.Port)
		if err := e.Start(addr); err != nil {
			log.Printf("API server stopped: %v", err)
			stop()
		}
	}()
	log.Printf("Started API server on %s:%d", cfg.APIServer.Host, cfg.APIServer.Port)

	<-ctx.Done()
	log.Println("Shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

// seedAdmin creates the configured admin account when the user table is
// still empty, so a fresh deployment is reachable
func seedAdmin(db *database.DB, cfg *config.Config) error {
	users, err := db.ListUsers()
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	if cfg.Seed.AdminPassword == "" {
		log.Println("No users and no seed admin password configured, skipping seed")
		return nil
	}

	user, err := db.CreateUser(cfg.Seed.AdminUsername, cfg.Seed.AdminPassword, true)
	if err != nil {
		return err
	}
	log.Printf("Seeded admin user %s (webhook key %s)", user.Username, user.WebhookKey)
	return nil
}
