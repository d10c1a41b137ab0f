package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the YAML file.
const (
	EnvTokenSecret   = "AGENDA_TOKEN_SECRET"
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvOpenAIKey     = "OPENAI_API_KEY"
)

// UserConfig is one account allowed to call the write endpoints.
type UserConfig struct {
	Username string `yaml:"username" json:"username"`
	// PasswordHash is a bcrypt hash (see `agendacomic -hash-password`).
	PasswordHash string `yaml:"password_hash" json:"-"`
}

// AuthConfig holds credentials and bearer token settings.
type AuthConfig struct {
	Users []UserConfig `yaml:"users" json:"users"`
	// TokenSecret signs bearer tokens. Empty disables POST /token.
	TokenSecret string `yaml:"token_secret" json:"-"`
	// TokenTTL is a Go duration string, e.g. "30m".
	TokenTTL string `yaml:"token_ttl" json:"token_ttl"`
}

// ICSConfig describes a single ICS feed imported into the agenda.
type ICSConfig struct {
	// ID is an internal identifier used for caching and logging.
	ID string `yaml:"id" json:"id"`
	// URL is an http(s) endpoint or a local file path.
	URL string `yaml:"url" json:"url"`
	// DefaultType is the category assigned to imported events.
	DefaultType string `yaml:"default_type" json:"default_type"`
}

// Subscription is one notifier preference. "todos"/"todas" match anything.
// It is also the record format of the bot's preference file.
type Subscription struct {
	ChatID    int64  `yaml:"chat_id" json:"chat_id"`
	Type      string `yaml:"type" json:"type"`
	Community string `yaml:"community" json:"community"`
	Province  string `yaml:"province" json:"province"`
}

// NotifyConfig configures the Telegram notifier.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Cron is a cron-style schedule (e.g. "*/10 * * * *").
	Cron string `yaml:"cron" json:"cron"`
	// StateFile stores the last notified event id.
	StateFile string `yaml:"state_file" json:"state_file"`
	// PreferencesFile holds the subscriptions users manage through the bot.
	PreferencesFile string `yaml:"preferences_file" json:"preferences_file"`
	TelegramToken   string `yaml:"telegram_token" json:"-"`
	// Subscriptions seed PreferencesFile the first time it is created.
	Subscriptions []Subscription `yaml:"subscriptions" json:"subscriptions"`
}

// EnrichConfig enables model-assisted classification and geolocation of
// imported events.
type EnrichConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Model is the chat model name; empty selects the client default.
	Model  string `yaml:"model" json:"model"`
	APIKey string `yaml:"api_key" json:"-"`
}

// GraphConfig configures the rendered statistics chart.
type GraphConfig struct {
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
}

// TracingConfig toggles OpenTelemetry export.
type TracingConfig struct {
	// Stdout pretty-prints spans to stdout; useful for local debugging.
	Stdout bool `yaml:"stdout" json:"stdout"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// DataFile is the JSON document holding the event collection.
	DataFile string `yaml:"data_file" json:"data_file"`

	// Timezone is the IANA zone used for "current month" defaults, dates
	// without an offset and ICS imports.
	Timezone string `yaml:"timezone" json:"timezone"`

	// CacheTTL is the maximum age of the read cache, as a Go duration.
	CacheTTL string `yaml:"cache_ttl" json:"cache_ttl"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Auth AuthConfig `yaml:"auth" json:"auth"`

	// ICS is the list of imported feeds.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// ImportCron schedules periodic ICS imports. Empty disables them.
	ImportCron string `yaml:"import_cron" json:"import_cron"`

	Enrich  EnrichConfig  `yaml:"enrich" json:"enrich"`
	Notify  NotifyConfig  `yaml:"notify" json:"notify"`
	Graph   GraphConfig   `yaml:"graph" json:"graph"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8000"
	}
	if c.DataFile == "" {
		c.DataFile = "events.json"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Madrid"
	}
	if _, err := time.ParseDuration(c.CacheTTL); err != nil {
		c.CacheTTL = "1h"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := time.ParseDuration(c.Auth.TokenTTL); err != nil {
		c.Auth.TokenTTL = "30m"
	}
	if c.Auth.Users == nil {
		c.Auth.Users = []UserConfig{}
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Notify.Cron == "" {
		c.Notify.Cron = "*/10 * * * *"
	}
	if c.Notify.StateFile == "" {
		c.Notify.StateFile = "notify_state.json"
	}
	if c.Notify.PreferencesFile == "" {
		c.Notify.PreferencesFile = "user_preferences.json"
	}
	if c.Notify.Subscriptions == nil {
		c.Notify.Subscriptions = []Subscription{}
	}
	if c.Graph.Output == "" {
		c.Graph.Output = "graph.png"
	}
	if c.Graph.Width <= 0 {
		c.Graph.Width = 1280
	}
	if c.Graph.Height <= 0 {
		c.Graph.Height = 800
	}
}

// ApplyEnv overrides secrets from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvTokenSecret); v != "" {
		c.Auth.TokenSecret = v
	}
	if v := os.Getenv(EnvTelegramToken); v != "" {
		c.Notify.TelegramToken = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		c.Enrich.APIKey = v
	}
}

// CacheTTLDuration returns CacheTTL parsed; Normalize guarantees validity.
func (c *Config) CacheTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.CacheTTL)
	return d
}

// TokenTTLDuration returns Auth.TokenTTL parsed.
func (c *Config) TokenTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.Auth.TokenTTL)
	return d
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions (creating the parent directory) and returned.
//   - Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Return cfg anyway so the caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, since the file carries password hashes and secrets.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agendacomic-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
