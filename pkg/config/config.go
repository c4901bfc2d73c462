// Package config loads bankmail settings from BANKMAIL_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/bankmail/pkg/store/postgres"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultStore            = StoreSQLite
	DefaultSQLitePath       = "data/bankmail.db"
	DefaultSource           = "gmail"
	DefaultGmailCredentials = "data/client_secret.json"
	DefaultGmailToken       = "data/token.json"
	DefaultHTTPAddr         = ":8080"
	DefaultTimezone         = "Asia/Ho_Chi_Minh"
	DefaultSyncCooldown     = 5 * time.Minute
	DefaultFetchTimeout     = time.Minute
	DefaultPersistTimeout   = 10 * time.Second
	DefaultAutoSyncInterval = 15 * time.Minute
)

const envPrefix = "BANKMAIL_"

// Config holds the application configuration.
type Config struct {
	// Store selects the persistence backend: memory, sqlite or postgres.
	// Environment variable: BANKMAIL_STORE
	Store string `koanf:"BANKMAIL_STORE"`

	// SQLitePath is the database file of the sqlite store.
	// Environment variable: BANKMAIL_SQLITE_PATH
	SQLitePath string `koanf:"BANKMAIL_SQLITE_PATH"`

	Postgres PostgresConfig `koanf:",squash"`

	// Source is the name of the email source plugin.
	// Environment variable: BANKMAIL_SOURCE
	Source string `koanf:"BANKMAIL_SOURCE"`

	// SourceConfig is the JSON configuration handed to the source plugin.
	// Environment variable: BANKMAIL_SOURCE_CONFIG
	SourceConfig string `koanf:"BANKMAIL_SOURCE_CONFIG"`

	// GmailCredentials is the Google OAuth client secret file.
	// Environment variable: BANKMAIL_GMAIL_CREDENTIALS
	GmailCredentials string `koanf:"BANKMAIL_GMAIL_CREDENTIALS"`

	// GmailToken is where the OAuth token is cached.
	// Environment variable: BANKMAIL_GMAIL_TOKEN
	GmailToken string `koanf:"BANKMAIL_GMAIL_TOKEN"`

	// RulesFile overrides the embedded classification rules.
	// Environment variable: BANKMAIL_RULES_FILE
	RulesFile string `koanf:"BANKMAIL_RULES_FILE"`

	// HTTPAddr is the listen address of the API server.
	// Environment variable: BANKMAIL_HTTP_ADDR
	HTTPAddr string `koanf:"BANKMAIL_HTTP_ADDR"`

	SyncCooldown     time.Duration `koanf:"BANKMAIL_SYNC_COOLDOWN"`
	SyncConcurrency  int           `koanf:"BANKMAIL_SYNC_CONCURRENCY"`
	FetchTimeout     time.Duration `koanf:"BANKMAIL_FETCH_TIMEOUT"`
	PersistTimeout   time.Duration `koanf:"BANKMAIL_PERSIST_TIMEOUT"`
	AutoSyncInterval time.Duration `koanf:"BANKMAIL_AUTOSYNC_INTERVAL"`

	// Timezone is the IANA zone used for months and calendar days.
	// Environment variable: BANKMAIL_TIMEZONE
	Timezone string `koanf:"BANKMAIL_TIMEZONE"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host        string `koanf:"BANKMAIL_POSTGRES_HOST"`
	Port        int    `koanf:"BANKMAIL_POSTGRES_PORT"`
	Database    string `koanf:"BANKMAIL_POSTGRES_DB"`
	User        string `koanf:"BANKMAIL_POSTGRES_USER"`
	Password    string `koanf:"BANKMAIL_POSTGRES_PASSWORD"`
	SSLMode     string `koanf:"BANKMAIL_POSTGRES_SSLMODE"`
	DSN         string `koanf:"BANKMAIL_POSTGRES_DSN"`
	MaxPoolSize int    `koanf:"BANKMAIL_POSTGRES_MAX_POOL_SIZE"`
}

// StoreConfig converts to the postgres store configuration.
func (p PostgresConfig) StoreConfig() postgres.Config {
	return postgres.Config{
		Host:        p.Host,
		Port:        p.Port,
		Database:    p.Database,
		User:        p.User,
		Password:    p.Password,
		SSLMode:     p.SSLMode,
		DSN:         p.DSN,
		MaxPoolSize: p.MaxPoolSize,
	}
}

// Load reads the environment, applies defaults and validates the result.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider(envPrefix, ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.SQLitePath == "" {
		c.SQLitePath = DefaultSQLitePath
	}
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.GmailCredentials == "" {
		c.GmailCredentials = DefaultGmailCredentials
	}
	if c.GmailToken == "" {
		c.GmailToken = DefaultGmailToken
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.SyncCooldown == 0 {
		c.SyncCooldown = DefaultSyncCooldown
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.PersistTimeout == 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	if c.AutoSyncInterval == 0 {
		c.AutoSyncInterval = DefaultAutoSyncInterval
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "") {
			errs = append(errs, errors.New("postgres store needs BANKMAIL_POSTGRES_DSN or BANKMAIL_POSTGRES_HOST and BANKMAIL_POSTGRES_DB"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if c.SourceConfig != "" && !json.Valid([]byte(c.SourceConfig)) {
		errs = append(errs, errors.New("BANKMAIL_SOURCE_CONFIG is not valid JSON"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("loading timezone %q: %w", c.Timezone, err))
	}
	if c.SyncCooldown < 0 || c.FetchTimeout < 0 || c.PersistTimeout < 0 || c.AutoSyncInterval < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.SyncConcurrency < 0 {
		errs = append(errs, errors.New("BANKMAIL_SYNC_CONCURRENCY must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SourceJSON returns the source plugin configuration, "{}" when unset.
func (c *Config) SourceJSON() json.RawMessage {
	if c.SourceConfig == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(c.SourceConfig)
}
