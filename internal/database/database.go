package database

import (
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Sentinel errors returned by store methods. Callers check these with
// errors.Is; lookups that find nothing return (nil, nil) instead.
var (
	ErrCardLinkInUse = errors.New("card-link already used")
	ErrInvalidRule   = errors.New("invalid rule")
	ErrNotOwner      = errors.New("not the owner")
)

// Config holds database connection settings
type Config struct {
	Driver     string
	DSN        string
	MigrateURL string // when set, Migrate runs file-based migrations instead of AutoMigrate
}

// DB wraps the database connection and provides the store methods
type DB struct {
	*gorm.DB
	config *Config
}

// New creates a new database connection
func New(config *Config) (*DB, error) {
	var dialector gorm.Dialector

	switch config.Driver {
	case "postgres":
		dialector = postgres.Open(config.DSN)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{
		DB:     db,
		config: config,
	}, nil
}

// Migrate brings the schema up to date. With a MigrateURL configured it runs
// the file-based migrations; otherwise it falls back to gorm's AutoMigrate.
func (db *DB) Migrate() error {
	if db.config.MigrateURL == "" {
		return db.AutoMigrate(
			&User{},
			&BoundEmail{},
			&Message{},
			&CardLink{},
			&Template{},
			&Rule{},
			&PushEndpoint{},
			&DeliveryLog{},
		)
	}

	m, err := migrate.New("file://migrations", db.config.MigrateURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Println("No migrations to run")
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
