// Package archive ships terminal response outcomes to long-term storage.
// A ClickHouse table holds the queryable history and an optional S3
// exporter keeps a cold JSONL copy of every batch. Archival is fed by
// completion hooks and runs entirely off the engine's worker: a full
// queue drops rows rather than stalling a response.
package archive

import (
	"context"
	"crypto/tls"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Config holds ClickHouse connection and batching settings for the archiver.
type Config struct {
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

	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns archiver settings for a local ClickHouse server.
func DefaultConfig() Config {
	return Config{
		Hosts:           []string{"localhost:9000"},
		Database:        "warn",
		Table:           "response_history",
		Username:        "default",
		RetentionDays:   90,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		DialTimeout:     10 * time.Second,
		BatchSize:       500,
		FlushInterval:   5 * time.Second,
		MaxRetries:      3,
		RetryDelay:      time.Second,
	}
}

const pingTimeout = 5 * time.Second

// tableNameRe bounds what we will splice into DDL statements.
var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,127}$`)

func validateTable(name string) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("archive: invalid table name %q", name)
	}
	return nil
}

// chBatch is the part of driver.Batch the archiver uses.
type chBatch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

// chConn is the part of driver.Conn the archiver uses. Real connections
// go through connAdapter; tests substitute a recording implementation.
type chConn interface {
	PrepareBatch(ctx context.Context, query string) (chBatch, error)
	Exec(ctx context.Context, query string, args ...any) error
	Ping(ctx context.Context) error
	Close() error
}

// connAdapter narrows driver.Conn to chConn. PrepareBatch cannot satisfy
// the interface directly because of its variadic options and concrete
// return type.
type connAdapter struct {
	conn driver.Conn
}

func (a connAdapter) PrepareBatch(ctx context.Context, query string) (chBatch, error) {
	return a.conn.PrepareBatch(ctx, query)
}

func (a connAdapter) Exec(ctx context.Context, query string, args ...any) error {
	return a.conn.Exec(ctx, query, args...)
}

func (a connAdapter) Ping(ctx context.Context) error { return a.conn.Ping(ctx) }

func (a connAdapter) Close() error { return a.conn.Close() }

// connect opens a native-protocol connection and verifies it with a ping.
func connect(cfg Config) (chConn, error) {
	options := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	if cfg.TLSEnabled {
		options.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("archive: open clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("archive: ping clickhouse: %w", err)
	}

	return connAdapter{conn: conn}, nil
}

// schemaTemplate creates the history table. MergeTree partitioned by
// month, ordered to serve "recent outcomes for an action" scans.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS %s (
    response_id String,
    alert_id    String,
    action      LowCardinality(String),
    status      LowCardinality(String),
    priority    LowCardinality(String),
    params      String CODEC(ZSTD(3)),
    context     String CODEC(ZSTD(3)),
    result      String CODEC(ZSTD(3)),
    error       String,
    created_by  LowCardinality(String),
    created_at  DateTime64(3, 'UTC'),
    updated_at  DateTime64(3, 'UTC')
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(created_at)
ORDER BY (action, created_at, response_id)
`

func insertQueryFor(table string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (response_id, alert_id, action, status, priority, params, context, result, error, created_by, created_at, updated_at)",
		table)
}
