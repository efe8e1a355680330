// Package config loads layered configuration (defaults, YAML file, then
// environment overrides) for the rule engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the Operations API HTTP server.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the Postgres-backed Store.
type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" yaml:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" yaml:"port" env:"DATABASE_PORT"`
	User            string `json:"user" yaml:"user" env:"DATABASE_USER"`
	Password        string `json:"password" yaml:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" yaml:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
	MigrationsPath  string `json:"migrations_path" yaml:"migrations_path" env:"DATABASE_MIGRATIONS_PATH"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// CacheConfig controls the Lock Manager's read-through owner cache.
type CacheConfig struct {
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" env:"CACHE_REDIS_ADDR"`
	RedisPassword string `json:"redis_password" yaml:"redis_password" env:"CACHE_REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" env:"CACHE_REDIS_DB"`
	TTLSeconds    int    `json:"ttl_seconds" yaml:"ttl_seconds" env:"CACHE_TTL_SECONDS"`
}

// SchedulerConfig controls the background due-schedule tick.
type SchedulerConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" env:"SCHEDULER_ENABLED"`
	TickInterval string `json:"tick_interval" yaml:"tick_interval" env:"SCHEDULER_TICK_INTERVAL"`
}

// RateLimitConfig controls the Operations API's mutation rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int     `json:"burst" yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// RuleEngineConfig controls rule-engine specific behavior not owned by
// another section.
type RuleEngineConfig struct {
	AdminGroup          string `json:"admin_group" yaml:"admin_group" env:"RULE_ADMIN_GROUP"`
	LockDurationMinutes int    `json:"lock_duration_minutes" yaml:"lock_duration_minutes" env:"RULE_LOCK_DURATION_MINUTES"`
	ValidationSampleMax int    `json:"validation_sample_max" yaml:"validation_sample_max" env:"RULE_VALIDATION_SAMPLE_MAX"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig     `json:"server" yaml:"server"`
	Database    DatabaseConfig   `json:"database" yaml:"database"`
	Logging     LoggingConfig    `json:"logging" yaml:"logging"`
	Cache       CacheConfig      `json:"cache" yaml:"cache"`
	Scheduler   SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	RateLimit   RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	RuleEngine  RuleEngineConfig `json:"rule_engine" yaml:"rule_engine"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
			MigrationsPath:  "migrations",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Cache: CacheConfig{
			TTLSeconds: 30,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			TickInterval: "@every 60s",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		RuleEngine: RuleEngineConfig{
			AdminGroup:          "Admin",
			LockDurationMinutes: 30,
			ValidationSampleMax: 1000,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string from host parameters.
// If DSN is already set, it is returned unchanged.
func (c DatabaseConfig) ConnectionString() string {
	if strings.TrimSpace(c.DSN) != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)

	return cfg, nil
}

// LoadFile reads configuration from a YAML file, applying defaults first.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// applyDatabaseURLOverride lets DATABASE_URL override a file-based DSN,
// matching the common container/PaaS convention.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
