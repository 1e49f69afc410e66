package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Engine.QueueCapacity != 1024 {
		t.Errorf("expected QueueCapacity 1024, got %d", cfg.Engine.QueueCapacity)
	}
	if cfg.Engine.HistoryCap != 100 {
		t.Errorf("expected HistoryCap 100, got %d", cfg.Engine.HistoryCap)
	}
	if cfg.Engine.DefaultTimeout != 300*time.Second {
		t.Errorf("expected DefaultTimeout 300s, got %v", cfg.Engine.DefaultTimeout)
	}
	if cfg.Engine.FallbackAction != "log_activity" {
		t.Errorf("expected FallbackAction log_activity, got %s", cfg.Engine.FallbackAction)
	}

	if cfg.Intake.Kafka.Topic != "warn.alerts" {
		t.Errorf("expected intake topic warn.alerts, got %s", cfg.Intake.Kafka.Topic)
	}
	if cfg.Events.Topic != "warn.responses" {
		t.Errorf("expected events topic warn.responses, got %s", cfg.Events.Topic)
	}
	if cfg.Intake.Kafka.Enabled || cfg.Intake.DTLS.Enabled {
		t.Error("intake transports should be disabled by default")
	}

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}

	if cfg.Production {
		t.Error("production should be false by default")
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warn.yaml")

	content := `
engine:
  queue_capacity: 64
  history_cap: 25
  default_timeout: 45s
  fallback_action: monitor_asset
logging:
  level: debug
  format: text
intake:
  kafka:
    enabled: true
    brokers: ["broker-1:9092", "broker-2:9092"]
    topic: detections
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Engine.QueueCapacity != 64 {
		t.Errorf("QueueCapacity = %d, want 64", cfg.Engine.QueueCapacity)
	}
	if cfg.Engine.HistoryCap != 25 {
		t.Errorf("HistoryCap = %d, want 25", cfg.Engine.HistoryCap)
	}
	if cfg.Engine.DefaultTimeout != 45*time.Second {
		t.Errorf("DefaultTimeout = %v, want 45s", cfg.Engine.DefaultTimeout)
	}
	if cfg.Engine.FallbackAction != "monitor_asset" {
		t.Errorf("FallbackAction = %s, want monitor_asset", cfg.Engine.FallbackAction)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	if !cfg.Intake.Kafka.Enabled {
		t.Error("kafka intake should be enabled")
	}
	if len(cfg.Intake.Kafka.Brokers) != 2 {
		t.Errorf("Brokers = %v, want 2 entries", cfg.Intake.Kafka.Brokers)
	}
	if cfg.Intake.Kafka.Topic != "detections" {
		t.Errorf("Topic = %s, want detections", cfg.Intake.Kafka.Topic)
	}

	// Untouched sections keep their defaults.
	if cfg.Events.Topic != "warn.responses" {
		t.Errorf("Events.Topic = %s, want default warn.responses", cfg.Events.Topic)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() on missing file should fall back to defaults, got %v", err)
	}
	if cfg.Engine.HistoryCap != 100 {
		t.Errorf("HistoryCap = %d, want default 100", cfg.Engine.HistoryCap)
	}
}

func TestLoadFileMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("engine: [not a map"), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error for malformed yaml")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WARN_LOG_LEVEL", "warn")
	t.Setenv("WARN_PRODUCTION", "true")
	t.Setenv("WARN_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("WARN_REDIS_ADDR", "redis-0:6379")
	t.Setenv("WARN_HISTORY_CAP", "500")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %s, want warn", cfg.Logging.Level)
	}
	if !cfg.Production {
		t.Error("Production should be true from env")
	}
	if len(cfg.Intake.Kafka.Brokers) != 2 || cfg.Intake.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Brokers = %v, want [k1:9092 k2:9092]", cfg.Intake.Kafka.Brokers)
	}
	if len(cfg.Events.Brokers) != 2 {
		t.Errorf("Events.Brokers = %v, want same override", cfg.Events.Brokers)
	}
	if cfg.Assets.Addr != "redis-0:6379" {
		t.Errorf("Assets.Addr = %s, want redis-0:6379", cfg.Assets.Addr)
	}
	if cfg.Engine.HistoryCap != 500 {
		t.Errorf("HistoryCap = %d, want 500", cfg.Engine.HistoryCap)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults pass",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "zero queue capacity",
			mutate: func(c *Config) {
				c.Engine.QueueCapacity = 0
			},
			wantErr: true,
		},
		{
			name: "zero history cap",
			mutate: func(c *Config) {
				c.Engine.HistoryCap = 0
			},
			wantErr: true,
		},
		{
			name: "empty fallback action",
			mutate: func(c *Config) {
				c.Engine.FallbackAction = ""
			},
			wantErr: true,
		},
		{
			name: "bad log level",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			wantErr: true,
		},
		{
			name: "kafka intake enabled without brokers",
			mutate: func(c *Config) {
				c.Intake.Kafka.Enabled = true
				c.Intake.Kafka.Brokers = nil
			},
			wantErr: true,
		},
		{
			name: "dtls enabled without certs",
			mutate: func(c *Config) {
				c.Intake.DTLS.Enabled = true
			},
			wantErr: true,
		},
		{
			name: "dtls enabled insecure",
			mutate: func(c *Config) {
				c.Intake.DTLS.Enabled = true
				c.Intake.DTLS.AllowInsecure = true
			},
			wantErr: false,
		},
		{
			name: "webhook enabled without url",
			mutate: func(c *Config) {
				c.Notify.Webhook.Enabled = true
			},
			wantErr: true,
		},
		{
			name: "email enabled without recipients",
			mutate: func(c *Config) {
				c.Notify.Email.Enabled = true
				c.Notify.Email.SMTPHost = "smtp.example.com"
				c.Notify.Email.From = "warn@example.com"
			},
			wantErr: true,
		},
		{
			name: "s3 exporter without bucket",
			mutate: func(c *Config) {
				c.Archive.S3.Enabled = true
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
