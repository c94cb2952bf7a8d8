package config

import (
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("default driver = %q; want sqlite", cfg.Database.Driver)
	}
	if cfg.APIServer.Port != 8080 {
		t.Errorf("default API port = %d; want 8080", cfg.APIServer.Port)
	}
	if cfg.MailServer.Port != 2525 {
		t.Errorf("default mail port = %d; want 2525", cfg.MailServer.Port)
	}
	if cfg.Relay.RetainPerUser != 500 {
		t.Errorf("default retention = %d; want 500", cfg.Relay.RetainPerUser)
	}
	if cfg.Seed.AdminUsername != "admin" {
		t.Errorf("default seed admin = %q; want admin", cfg.Seed.AdminUsername)
	}
}

func TestDatabaseDSN(t *testing.T) {
	var cfg Config
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = "relay.db"

	driver, dsn, migrateURL := cfg.DatabaseDSN()
	if driver != "sqlite" || dsn != "relay.db" {
		t.Errorf("sqlite DSN = (%q, %q)", driver, dsn)
	}
	if migrateURL != "" {
		t.Errorf("sqlite should not produce a migrate URL, got %q", migrateURL)
	}

	cfg.Database.Driver = "postgres"
	cfg.Database.Host = "db.internal"
	cfg.Database.Port = 5432
	cfg.Database.User = "relay"
	cfg.Database.Password = "pw"
	cfg.Database.Name = "cardrelay"
	cfg.Database.SSLMode = "disable"

	driver, dsn, migrateURL = cfg.DatabaseDSN()
	if driver != "postgres" {
		t.Errorf("driver = %q; want postgres", driver)
	}
	for _, part := range []string{"host=db.internal", "dbname=cardrelay", "password=pw"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("postgres DSN %q missing %q", dsn, part)
		}
	}
	if !strings.HasPrefix(migrateURL, "postgres://relay:pw@db.internal:5432/cardrelay") {
		t.Errorf("migrate URL = %q", migrateURL)
	}
}
