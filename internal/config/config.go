package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig          `yaml:"app"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Backup        BackupConfig       `yaml:"backup"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
	API           APIConfig          `yaml:"api"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Relay         RelayConfig        `yaml:"relay"`
	Outbox        OutboxConfig       `yaml:"outbox"`
	Payments      PaymentsConfig     `yaml:"payments"`
	Notifications NotificationConfig `yaml:"notifications"`
	Exports       ExportConfig       `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type APIConfig struct {
	HTTP          APIHTTPConfig      `yaml:"http"`
	GRPC          APIGRPCConfig      `yaml:"grpc"`
	RateLimit     APIRateLimitConfig `yaml:"rate_limit"`
	DefaultTenant string             `yaml:"default_tenant"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// SchedulerConfig drives schedule materialization and the hold expiry sweep.
type SchedulerConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	BatchSize         int           `yaml:"batch_size"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	CheckInHour       int           `yaml:"check_in_hour"`
	CheckOutHour      int           `yaml:"check_out_hour"`
	Timezone          string        `yaml:"timezone"`
	HoldTTL           time.Duration `yaml:"hold_ttl"`
}

// Location returns the property timezone, UTC when unset or unknown.
func (c SchedulerConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type RelayConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	BatchSize         int           `yaml:"batch_size"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	Channels          []string      `yaml:"channels"`
}

type OutboxConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	BatchSize         int           `yaml:"batch_size"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	PubSubPrefix      string        `yaml:"pubsub_prefix"`
	DeadLetterKey     string        `yaml:"dead_letter_key"`
}

type PaymentsConfig struct {
	Provider        string `yaml:"provider"`
	KeySecret       string `yaml:"key_secret"`
	WebhookSecret   string `yaml:"webhook_secret"`
	SignatureHeader string `yaml:"signature_header"`
}

type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

var knownChannels = map[string]bool{"log": true, "telegram": true}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Payments.KeySecret == "" {
		return errors.New("payments key secret is required")
	}
	if c.Payments.WebhookSecret == "" {
		return errors.New("payments webhook secret is required")
	}
	if c.Scheduler.CheckInHour < 0 || c.Scheduler.CheckInHour > 23 {
		return fmt.Errorf("scheduler check_in_hour out of range: %d", c.Scheduler.CheckInHour)
	}
	if c.Scheduler.CheckOutHour < 0 || c.Scheduler.CheckOutHour > 23 {
		return fmt.Errorf("scheduler check_out_hour out of range: %d", c.Scheduler.CheckOutHour)
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler timezone: %w", err)
		}
	}
	return ValidateChannels(c.Relay.Channels, c.Notifications.Telegram.BotToken)
}

func ValidateChannels(channels []string, telegramToken string) error {
	seen := make(map[string]bool)
	for _, ch := range channels {
		if !knownChannels[ch] {
			return fmt.Errorf("unknown notification channel: %s", ch)
		}
		if seen[ch] {
			return fmt.Errorf("duplicate notification channel: %s", ch)
		}
		seen[ch] = true
		if ch == "telegram" && (telegramToken == "" || telegramToken == "YOUR_BOT_TOKEN_HERE") {
			return errors.New("telegram channel requires notifications.telegram.bot_token")
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "staybook"
	}
	if c.Database.BusyTimeoutMS == 0 {
		c.Database.BusyTimeoutMS = 5000
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.DefaultTenant == "" {
		c.API.DefaultTenant = "default"
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "staybook"
	}

	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = 30 * time.Second
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = 20
	}
	if c.Scheduler.MaxAttempts == 0 {
		c.Scheduler.MaxAttempts = 5
	}
	if c.Scheduler.CheckInHour == 0 {
		c.Scheduler.CheckInHour = 15
	}
	if c.Scheduler.CheckOutHour == 0 {
		c.Scheduler.CheckOutHour = 11
	}
	if c.Scheduler.HoldTTL == 0 {
		c.Scheduler.HoldTTL = 30 * time.Minute
	}

	if c.Relay.PollInterval == 0 {
		c.Relay.PollInterval = 30 * time.Second
	}
	if c.Relay.BatchSize == 0 {
		c.Relay.BatchSize = 10
	}
	if c.Relay.MaxAttempts == 0 {
		c.Relay.MaxAttempts = 5
	}
	if len(c.Relay.Channels) == 0 {
		c.Relay.Channels = []string{"log"}
	}
	for i, ch := range c.Relay.Channels {
		c.Relay.Channels[i] = strings.ToLower(strings.TrimSpace(ch))
	}

	if c.Outbox.PollInterval == 0 {
		c.Outbox.PollInterval = 5 * time.Second
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 50
	}
	if c.Outbox.MaxAttempts == 0 {
		c.Outbox.MaxAttempts = 10
	}
	if c.Outbox.PubSubPrefix == "" {
		c.Outbox.PubSubPrefix = c.Redis.KeyPrefix + ":events"
	}
	if c.Outbox.DeadLetterKey == "" {
		c.Outbox.DeadLetterKey = c.Redis.KeyPrefix + ":deadletter"
	}

	if c.Payments.SignatureHeader == "" {
		c.Payments.SignatureHeader = "X-Payment-Signature"
	}
	if c.Payments.Provider == "" {
		c.Payments.Provider = "razorpay"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
