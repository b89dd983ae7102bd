// Package config provides server configuration loaded from environment
// variables, with command-line flags taking precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all server configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Audit    AuditConfig

	// SeedDemo loads the demo catalog at startup when the catalog is empty.
	SeedDemo bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// AuditConfig controls the background inventory audit.
type AuditConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return ":" + s.Port
}

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() Config {
	return Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", DriverSQLite),
			DSN:    getEnv("DATABASE_DSN", "stock.db"),
		},
		Audit: AuditConfig{
			Enabled:  getEnvBool("AUDIT_ENABLED", true),
			Interval: getEnvDuration("AUDIT_INTERVAL", time.Hour),
		},
		SeedDemo: getEnvBool("SEED_DEMO", false),
	}
}

// BindFlags registers flags whose defaults are the values already in c.
// After fs.Parse, c holds the merged configuration.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Server.Port, "port", c.Server.Port, "HTTP server port")
	fs.StringVar(&c.Database.DSN, "db", c.Database.DSN, "Database path (sqlite) or DSN (postgres)")
	fs.StringVar(&c.Database.Driver, "driver", c.Database.Driver, "Storage driver: sqlite, postgres or memory")
	fs.BoolVar(&c.SeedDemo, "seed", c.SeedDemo, "Load demo data on startup if the catalog is empty")
	fs.DurationVar(&c.Audit.Interval, "audit-interval", c.Audit.Interval, "Inventory audit interval")
}

// Validate reports configuration that cannot start a server.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("config: %s driver needs a DSN", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown driver %q (want sqlite, postgres or memory)", c.Database.Driver)
	}
	if c.Server.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		return fmt.Errorf("config: audit interval must be positive, got %v", c.Audit.Interval)
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
