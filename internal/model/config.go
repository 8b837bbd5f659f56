package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required"`

	// PublicBaseURL prefixes attachment download URLs written into HTML
	// bodies in place of cid: references.
	PublicBaseURL string `mapstructure:"public_base_url" yaml:"public_base_url"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// GoogleConfig holds the OAuth client and Gmail API settings.
type GoogleConfig struct {
	ClientID       string  `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret   string  `mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURL    string  `mapstructure:"redirect_url" yaml:"redirect_url"`
	PubSubTopic    string  `mapstructure:"pubsub_topic" yaml:"pubsub_topic"`
	Endpoint       string  `mapstructure:"endpoint" yaml:"endpoint"`
	QuotaPerSecond float64 `mapstructure:"quota_per_second" yaml:"quota_per_second" validate:"gte=0"`

	// WatchRenewHours is how often push watches are re-armed.
	WatchRenewHours int `mapstructure:"watch_renew_hours" yaml:"watch_renew_hours" validate:"gt=0"`
}

// ProviderConfig bounds provider calls.
type ProviderConfig struct {
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec" validate:"gt=0"`
}

// KanbanConfig controls the snooze wake-up scheduler.
type KanbanConfig struct {
	TickIntervalSec int `mapstructure:"tick_interval_sec" yaml:"tick_interval_sec" validate:"gt=0"`
}

// RelayConfig controls notification fan-out.
type RelayConfig struct {
	SessionBuffer int `mapstructure:"session_buffer" yaml:"session_buffer" validate:"gt=0"`
	HeartbeatSec  int `mapstructure:"heartbeat_sec" yaml:"heartbeat_sec" validate:"gt=0"`
}

// AMQPConfig controls the optional push-event consumer.
type AMQPConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	URL        string `mapstructure:"url" yaml:"url" validate:"required_if=Enabled true"`
	Exchange   string `mapstructure:"exchange" yaml:"exchange"`
	Queue      string `mapstructure:"queue" yaml:"queue"`
	RoutingKey string `mapstructure:"routing_key" yaml:"routing_key"`
}

// SummaryConfig holds settings for the summarization service.
type SummaryConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
}

// KeyringConfig locates the master encryption key.
type KeyringConfig struct {
	Service string `mapstructure:"service" yaml:"service" validate:"required"`
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=json text"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Google   GoogleConfig   `mapstructure:"google" yaml:"google"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Kanban   KanbanConfig   `mapstructure:"kanban" yaml:"kanban"`
	Relay    RelayConfig    `mapstructure:"relay" yaml:"relay"`
	AMQP     AMQPConfig     `mapstructure:"amqp" yaml:"amqp"`
	Summary  SummaryConfig  `mapstructure:"summary" yaml:"summary"`
	Keyring  KeyringConfig  `mapstructure:"keyring" yaml:"keyring"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ProviderTimeout returns the per-call provider deadline.
func (c *AppConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSec) * time.Second
}

// TickInterval returns the Kanban wake-up scan interval.
func (c *AppConfig) TickInterval() time.Duration {
	return time.Duration(c.Kanban.TickIntervalSec) * time.Second
}

// WatchRenewInterval returns how often push watches are re-armed.
func (c *AppConfig) WatchRenewInterval() time.Duration {
	return time.Duration(c.Google.WatchRenewHours) * time.Hour
}

// Heartbeat returns the keep-alive interval for event streams.
func (c *AppConfig) Heartbeat() time.Duration {
	return time.Duration(c.Relay.HeartbeatSec) * time.Second
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml")
}

// setDefaults registers a default for every key so that environment
// overrides resolve even when the file omits the key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_base_url", "/api/v1")
	v.SetDefault("database.path", "mailsync.db")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.redirect_url", "")
	v.SetDefault("google.pubsub_topic", "")
	v.SetDefault("google.endpoint", "")
	v.SetDefault("google.quota_per_second", 200.0)
	v.SetDefault("google.watch_renew_hours", 24)
	v.SetDefault("provider.timeout_sec", 30)
	v.SetDefault("kanban.tick_interval_sec", 60)
	v.SetDefault("relay.session_buffer", 16)
	v.SetDefault("relay.heartbeat_sec", 20)
	v.SetDefault("amqp.enabled", false)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "mail")
	v.SetDefault("amqp.queue", "mail.push")
	v.SetDefault("amqp.routing_key", "mailbox.changed")
	v.SetDefault("summary.api_key", "")
	v.SetDefault("summary.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("summary.max_tokens", 512)
	v.SetDefault("summary.base_url", "")
	v.SetDefault("keyring.service", "mailsync")
	v.SetDefault("keyring.file_dir", "~/.config/mailsync/credentials")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads configuration from the given YAML file path using
// Viper, with MAILSYNC_* environment variables taking precedence. A
// missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}
