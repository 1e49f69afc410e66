// Package config handles configuration loading for the W.A.R.N response engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the complete daemon configuration.
type Config struct {
	Engine     EngineConfig    `yaml:"engine"`
	Rules      RulesConfig     `yaml:"rules"`
	Workflows  WorkflowsConfig `yaml:"workflows"`
	Intake     IntakeConfig    `yaml:"intake"`
	Events     EventsConfig    `yaml:"events"`
	Assets     AssetsConfig    `yaml:"assets"`
	Dispatch   DispatchConfig  `yaml:"dispatch"`
	Notify     NotifyConfig    `yaml:"notify"`
	Store      StoreConfig     `yaml:"store"`
	Archive    ArchiveConfig   `yaml:"archive"`
	Logging    LoggingConfig   `yaml:"logging"`
	Production bool            `yaml:"production"`
}

// EngineConfig holds scheduler and state store settings.
type EngineConfig struct {
	QueueCapacity  int           `yaml:"queue_capacity" validate:"gte=1"`
	HistoryCap     int           `yaml:"history_cap" validate:"gte=1"`
	DefaultTimeout time.Duration `yaml:"default_timeout" validate:"gt=0"`
	FallbackAction string        `yaml:"fallback_action" validate:"required"`
}

// RulesConfig holds rule table settings.
type RulesConfig struct {
	// Path to a YAML rule table. Empty means the built-in table.
	Path string `yaml:"path"`
	// Watch reloads the table when the file changes.
	Watch bool `yaml:"watch"`
}

// WorkflowsConfig holds workflow executor settings.
type WorkflowsConfig struct {
	// Dir containing workflow definition YAML files. Empty disables loading.
	Dir         string        `yaml:"dir"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	SSH         SSHConfig     `yaml:"ssh"`
}

// SSHConfig holds connection settings for ssh workflow steps.
type SSHConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	KeyFile        string        `yaml:"key_file"`
	KnownHostsFile string        `yaml:"known_hosts_file"`
	Timeout        time.Duration `yaml:"timeout"`
}

// IntakeConfig holds alert intake settings.
type IntakeConfig struct {
	Kafka KafkaIntakeConfig `yaml:"kafka"`
	DTLS  DTLSIntakeConfig  `yaml:"dtls"`
}

// KafkaIntakeConfig holds the detector topic consumer settings.
type KafkaIntakeConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
	MinBytes int     `yaml:"min_bytes"`
	MaxBytes int     `yaml:"max_bytes"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

// DTLSIntakeConfig holds the agent alert listener settings (secure UDP).
type DTLSIntakeConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Address           string        `yaml:"address"`
	CertFile          string        `yaml:"cert_file"`
	KeyFile           string        `yaml:"key_file"`
	CAFile            string        `yaml:"ca_file"`
	RequireClientCert bool          `yaml:"require_client_cert"`
	Workers           int           `yaml:"workers"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	// AllowInsecure falls back to plain UDP when no certificates are
	// configured. Logs a security warning. NOT RECOMMENDED.
	AllowInsecure bool `yaml:"allow_insecure"`
}

// EventsConfig holds the lifecycle event producer settings.
type EventsConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Brokers    []string      `yaml:"brokers"`
	Topic      string        `yaml:"topic"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// AssetsConfig holds the Redis asset directory settings.
type AssetsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DispatchConfig holds the NATS agent command dispatcher settings.
type DispatchConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	Webhook WebhookChannelConfig `yaml:"webhook"`
	Slack   SlackChannelConfig   `yaml:"slack"`
	Email   EmailChannelConfig   `yaml:"email"`
	// Log enables the log-only channel, useful in development.
	Log bool `yaml:"log"`
}

// WebhookChannelConfig holds generic webhook settings.
type WebhookChannelConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SlackChannelConfig holds Slack webhook settings.
type SlackChannelConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// EmailChannelConfig holds SMTP settings for the email channel.
type EmailChannelConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// StoreConfig holds the embedded SQLite persistence settings.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ArchiveConfig holds terminal-outcome archival settings.
type ArchiveConfig struct {
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Batch      BatchConfig      `yaml:"batch"`
	S3         S3ExporterConfig `yaml:"s3"`
}

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Table           string        `yaml:"table"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	RetentionDays   int           `yaml:"retention_days"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// BatchConfig holds archive batching settings.
type BatchConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// S3ExporterConfig holds S3 export settings.
type S3ExporterConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			QueueCapacity:  1024,
			HistoryCap:     100,
			DefaultTimeout: 300 * time.Second,
			FallbackAction: "log_activity",
		},
		Rules: RulesConfig{
			Path:  "",
			Watch: false,
		},
		Workflows: WorkflowsConfig{
			Dir:         "",
			HTTPTimeout: 30 * time.Second,
			SSH: SSHConfig{
				Port:    22,
				Timeout: 30 * time.Second,
			},
		},
		Intake: IntakeConfig{
			Kafka: KafkaIntakeConfig{
				Enabled:  false,
				Brokers:  []string{"localhost:9092"},
				Topic:    "warn.alerts",
				GroupID:  "warn-respond",
				MinBytes: 1,
				MaxBytes: 10 * 1024 * 1024, // 10MB
				MaxWait:  time.Second,
			},
			DTLS: DTLSIntakeConfig{
				Enabled:           false, // Enable when certificates are configured
				Address:           ":5517",
				Workers:           4,
				MaxMessageSize:    65535,
				ConnectionTimeout: 30 * time.Second,
				IdleTimeout:       5 * time.Minute,
				AllowInsecure:     false,
				RequireClientCert: false,
			},
		},
		Events: EventsConfig{
			Enabled:    false,
			Brokers:    []string{"localhost:9092"},
			Topic:      "warn.responses",
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		Assets: AssetsConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			DB:          0,
			KeyPrefix:   "warn:asset:",
			DialTimeout: 5 * time.Second,
		},
		Dispatch: DispatchConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "warn.ir",
		},
		Notify: NotifyConfig{
			Webhook: WebhookChannelConfig{
				Enabled: false,
				Timeout: 10 * time.Second,
			},
			Slack: SlackChannelConfig{
				Enabled: false,
			},
			Email: EmailChannelConfig{
				Enabled:  false,
				SMTPPort: 587,
			},
			Log: true,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "warn_responses.db",
		},
		Archive: ArchiveConfig{
			ClickHouse: ClickHouseConfig{
				Enabled:         false, // Disabled by default for development without ClickHouse
				Hosts:           []string{"localhost:9000"},
				Database:        "warn",
				Table:           "response_history",
				Username:        "default",
				Password:        "",
				RetentionDays:   90,
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				TLSEnabled:      false,
				DialTimeout:     10 * time.Second,
			},
			Batch: BatchConfig{
				BatchSize:     500,
				FlushInterval: 5 * time.Second,
				MaxRetries:    3,
				RetryDelay:    time.Second,
			},
			S3: S3ExporterConfig{
				Enabled: false,
				Region:  "us-east-1",
				Prefix:  "response-archive",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Production: false,
	}
}

// Load loads configuration from WARN_CONFIG_PATH (or configs/warn.yaml) and
// applies environment overrides. A missing file yields the defaults.
func Load() (*Config, error) {
	configPath := os.Getenv("WARN_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/warn.yaml"
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides for the
// deploy-sensitive settings.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("WARN_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if prod := os.Getenv("WARN_PRODUCTION"); prod == "true" {
		c.Production = true
	}

	if cap := os.Getenv("WARN_HISTORY_CAP"); cap != "" {
		fmt.Sscanf(cap, "%d", &c.Engine.HistoryCap)
	}

	if brokers := os.Getenv("WARN_KAFKA_BROKERS"); brokers != "" {
		list := splitAndTrim(brokers, ",")
		c.Intake.Kafka.Brokers = list
		c.Events.Brokers = list
	}

	if addr := os.Getenv("WARN_REDIS_ADDR"); addr != "" {
		c.Assets.Addr = addr
	}

	if pass := os.Getenv("WARN_REDIS_PASSWORD"); pass != "" {
		c.Assets.Password = pass
	}

	if url := os.Getenv("WARN_NATS_URL"); url != "" {
		c.Dispatch.URL = url
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Archive.ClickHouse.Hosts = []string{host}
	}

	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Archive.ClickHouse.Database = db
	}

	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Archive.ClickHouse.Username = user
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Archive.ClickHouse.Password = pass
	}

	if bucket := os.Getenv("WARN_S3_BUCKET"); bucket != "" {
		c.Archive.S3.Bucket = bucket
	}

	if path := os.Getenv("WARN_STORE_PATH"); path != "" {
		c.Store.Path = path
	}
}

// splitAndTrim splits a string by separator and drops empty parts.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration. Struct tags cover the scalar ranges;
// cross-field rules are checked by hand.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.Intake.Kafka.Enabled && len(c.Intake.Kafka.Brokers) == 0 {
		return fmt.Errorf("intake.kafka.brokers must not be empty when kafka intake is enabled")
	}

	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("events.brokers must not be empty when event publishing is enabled")
	}

	if c.Intake.DTLS.Enabled && !c.Intake.DTLS.AllowInsecure {
		if c.Intake.DTLS.CertFile == "" || c.Intake.DTLS.KeyFile == "" {
			return fmt.Errorf("intake.dtls requires cert_file and key_file (or allow_insecure)")
		}
	}

	if c.Assets.Enabled && c.Assets.Addr == "" {
		return fmt.Errorf("assets.addr must not be empty when the asset directory is enabled")
	}

	if c.Dispatch.Enabled && c.Dispatch.URL == "" {
		return fmt.Errorf("dispatch.url must not be empty when agent dispatch is enabled")
	}

	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty when the store is enabled")
	}

	if c.Archive.ClickHouse.Enabled && len(c.Archive.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("archive.clickhouse.hosts must not be empty when the archiver is enabled")
	}

	if c.Archive.S3.Enabled && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive.s3.bucket must not be empty when the s3 exporter is enabled")
	}

	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notify.webhook.url must not be empty when the webhook channel is enabled")
	}

	if c.Notify.Slack.Enabled && c.Notify.Slack.WebhookURL == "" {
		return fmt.Errorf("notify.slack.webhook_url must not be empty when the slack channel is enabled")
	}

	if c.Notify.Email.Enabled {
		if c.Notify.Email.SMTPHost == "" || c.Notify.Email.From == "" || len(c.Notify.Email.To) == 0 {
			return fmt.Errorf("notify.email requires smtp_host, from, and at least one recipient")
		}
	}

	return nil
}
