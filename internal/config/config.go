// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/vidyback/templatestore/internal/store"
)

// Config holds all application configuration
type Config struct {
	Port     string `env:"PORT" envDefault:"8000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Store  StoreConfig
	HTTP   HTTPConfig
	GitHub GitHubConfig `envPrefix:"GITHUB_"`
	Jobs   JobsConfig
}

// StoreConfig selects where the document lives
type StoreConfig struct {
	Backend      string `env:"STORE_BACKEND" envDefault:"memory"`
	File         string `env:"STORE_FILE" envDefault:"db.json"`
	DatabaseURL  string `env:"DATABASE_URL"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"db.sqlite"`
	DocumentName string `env:"DOCUMENT_NAME" envDefault:"default"`
}

// HTTPConfig holds response middleware settings
type HTTPConfig struct {
	CacheControl    string            `env:"CACHE_CONTROL" envDefault:"public, max-age=3600"`
	ResponseHeaders map[string]string `env:"RESPONSE_HEADERS" envKeyValSeparator:":" envDefault:"abc:XYZ123"`
	ETag            bool              `env:"ETAG_ENABLED" envDefault:"true"`
	Metrics         bool              `env:"METRICS_ENABLED" envDefault:"true"`
	RateLimitRPS    float64           `env:"RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst  int               `env:"RATE_LIMIT_BURST" envDefault:"20"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable behind a proxy that overwrites those headers.
	TrustProxy bool `env:"TRUST_PROXY" envDefault:"false"`
}

// GitHubConfig holds remote sync settings
type GitHubConfig struct {
	Token         string `env:"TOKEN"`
	Repo          string `env:"REPO" envDefault:"VidyBack/PostRequestVercel"`
	FilePath      string `env:"FILE_PATH" envDefault:"db.json"`
	Branch        string `env:"BRANCH" envDefault:"master"`
	APIURL        string `env:"API_URL" envDefault:"https://api.github.com"`
	CommitMessage string `env:"COMMIT_MESSAGE" envDefault:"Updated db.json via API"`
	SeedOnStart   bool   `env:"SEED_ON_START" envDefault:"false"`
}

// JobsConfig holds background push settings
type JobsConfig struct {
	RedisAddr   string `env:"REDIS_ADDR"`
	AutoPush    bool   `env:"AUTO_PUSH" envDefault:"false"`
	Concurrency int    `env:"WORKER_CONCURRENCY" envDefault:"2"`
}

// Load reads .env (if present) and then the process environment
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit dotenv file. Values already set in the
// environment win over the file.
func LoadFrom(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasGitHub returns true if remote sync can authenticate
func (c *Config) HasGitHub() bool {
	return c.GitHub.Token != "" && c.GitHub.Repo != ""
}

// HasJobs returns true if a Redis address is configured for asynq
func (c *Config) HasJobs() bool {
	return c.Jobs.RedisAddr != ""
}

// StoreOptions maps the store settings onto store.Options
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:     c.Store.Backend,
		FilePath:    c.Store.File,
		DatabaseURL: c.Store.DatabaseURL,
		SQLitePath:  c.Store.SQLitePath,
		Name:        c.Store.DocumentName,
	}
}

// Validate rejects settings that cannot work together
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case store.BackendMemory, store.BackendFile, store.BackendPostgres, store.BackendSQLite:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, file, postgres, sqlite; got %q", c.Store.Backend)
	}
	if c.Store.Backend == store.BackendPostgres && c.Store.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for the postgres backend")
	}
	if c.Jobs.AutoPush && !c.HasJobs() {
		return errors.New("AUTO_PUSH requires REDIS_ADDR")
	}
	// the worker runs in its own process and must read the api's document
	if c.HasJobs() && c.Store.Backend == store.BackendMemory {
		return errors.New("REDIS_ADDR requires a shared STORE_BACKEND (file, postgres or sqlite), not memory")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %v", c.HTTP.RateLimitRPS)
	}
	return nil
}
