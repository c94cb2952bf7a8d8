package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Database Configuration
	Database struct {
		Driver   string
		Path     string // For SQLite
		Host     string // For PostgreSQL
		Port     int    // For PostgreSQL
		User     string // For PostgreSQL
		Password string // For PostgreSQL
		Name     string // For PostgreSQL
		SSLMode  string // For PostgreSQL
	}

	// API Server Configuration
	APIServer struct {
		Host string
		Port int
	}

	// Mail Server Configuration (SMTP ingestion)
	MailServer struct {
		Host         string
		Port         int
		Domain       string
		MaxMailSize  int64
		ReadTimeout  int
		WriteTimeout int
	}

	// Relay Configuration
	Relay struct {
		RetainPerUser int   // per-user message retention cap, 0 disables pruning
		MaxBodySize   int64 // largest accepted message body in bytes
		MaxRetries    int   // push forwarding attempts
		RetryDelay    int   // base delay between attempts, seconds
	}

	// Mailgun Configuration (optional, new-message email alerts)
	Mailgun struct {
		APIKey      string
		Domain      string
		FromAddress string
	}

	// Seed admin account, created on first boot when no users exist
	Seed struct {
		AdminUsername string
		AdminPassword string
	}
}

// LoadConfig loads the configuration from environment variables and config files
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")           // name of config file (without extension)
	v.SetConfigType("yaml")             // type of config file
	v.AddConfigPath(".")                // current directory
	v.AddConfigPath("$HOME/.cardrelay") // home directory
	v.AddConfigPath("/etc/cardrelay/")  // system directory

	// Read config file (if exists)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - that's ok, we'll use env vars and defaults
	}

	// Environment variables
	v.SetEnvPrefix("CARDRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "cardrelay.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "cardrelay")
	v.SetDefault("database.sslmode", "disable")

	// API server defaults
	v.SetDefault("apiserver.host", "0.0.0.0")
	v.SetDefault("apiserver.port", 8080)

	// Mail server defaults
	v.SetDefault("mailserver.host", "0.0.0.0")
	v.SetDefault("mailserver.port", 2525)
	v.SetDefault("mailserver.maxmailsize", 1024*1024) // 1MB
	v.SetDefault("mailserver.readtimeout", 30)
	v.SetDefault("mailserver.writetimeout", 30)

	// Relay defaults
	v.SetDefault("relay.retainperuser", 500)
	v.SetDefault("relay.maxbodysize", 64*1024) // 64KB
	v.SetDefault("relay.maxretries", 5)
	v.SetDefault("relay.retrydelay", 1)

	// Seed defaults
	v.SetDefault("seed.adminusername", "admin")
}

// DatabaseDSN translates the loaded settings into a DSN pair for the
// selected driver. The migrate URL is only produced for postgres; sqlite
// deployments rely on AutoMigrate.
func (c *Config) DatabaseDSN() (driver, dsn, migrateURL string) {
	if c.Database.Driver == "postgres" {
		dsn = fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
			c.Database.Host, c.Database.Port, c.Database.User, c.Database.Name, c.Database.SSLMode)
		if c.Database.Password != "" {
			dsn += fmt.Sprintf(" password=%s", c.Database.Password)
		}
		migrateURL = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			c.Database.User, c.Database.Password, c.Database.Host,
			c.Database.Port, c.Database.Name, c.Database.SSLMode)
		return "postgres", dsn, migrateURL
	}
	return "sqlite", c.Database.Path, ""
}
