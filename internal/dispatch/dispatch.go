// Package dispatch delivers containment commands to the agents running on
// managed assets over NATS. Each asset listens on its own subject under a
// shared prefix; the daemon publishes and flushes, it does not wait for the
// agent to act.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned when a command is sent while the NATS
// connection is down and reconnect buffering is exhausted.
var ErrNotConnected = errors.New("dispatch: not connected")

const DefaultSubjectPrefix = "warn.ir"

// Command is the wire format agents receive.
type Command struct {
	ID       string         `json:"id"`
	AssetID  string         `json:"asset_id"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
	IssuedAt time.Time      `json:"issued_at"`
	IssuedBy string         `json:"issued_by"`
}

// Conn is the slice of the NATS connection the dispatcher uses. Satisfied
// by *nats.Conn.
type Conn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	IsConnected() bool
	Close()
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// Connect dials NATS with unlimited reconnects and connection state logging.
func Connect(cfg Config, logger *slog.Logger) (Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "warn-respond"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dispatch: connect to %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Dispatcher publishes agent commands. It satisfies the response engine's
// AgentDispatcher.
type Dispatcher struct {
	conn   Conn
	prefix string
	logger *slog.Logger

	published atomic.Uint64
	failures  atomic.Uint64
}

func NewDispatcher(conn Conn, subjectPrefix string, logger *slog.Logger) *Dispatcher {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		conn:   conn,
		prefix: subjectPrefix,
		logger: logger.With("component", "dispatch"),
	}
}

// SendCommand publishes one command to the asset's subject and flushes so a
// broker-side failure surfaces here rather than silently after return.
func (d *Dispatcher) SendCommand(ctx context.Context, assetID, action string, params map[string]any) error {
	if assetID == "" {
		return fmt.Errorf("dispatch: asset id required")
	}
	if action == "" {
		return fmt.Errorf("dispatch: action required")
	}
	if !d.conn.IsConnected() {
		d.failures.Add(1)
		return ErrNotConnected
	}

	cmd := Command{
		ID:       uuid.New().String(),
		AssetID:  assetID,
		Action:   action,
		Params:   params,
		IssuedAt: time.Now().UTC(),
		IssuedBy: "warn-respond",
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		d.failures.Add(1)
		return fmt.Errorf("dispatch: encode command: %w", err)
	}

	subject := d.prefix + "." + subjectToken(assetID)
	if err := d.conn.Publish(subject, data); err != nil {
		d.failures.Add(1)
		return fmt.Errorf("dispatch: publish %s: %w", subject, err)
	}
	if err := d.conn.FlushWithContext(ctx); err != nil {
		d.failures.Add(1)
		return fmt.Errorf("dispatch: flush: %w", err)
	}

	d.published.Add(1)
	d.logger.Debug("command dispatched",
		"subject", subject,
		"action", action,
		"asset_id", assetID,
		"command_id", cmd.ID)
	return nil
}

// Close drains the connection.
func (d *Dispatcher) Close() {
	d.conn.Close()
}

// Stats returns dispatch counters.
func (d *Dispatcher) Stats() map[string]interface{} {
	return map[string]interface{}{
		"published": d.published.Load(),
		"failures":  d.failures.Load(),
		"connected": d.conn.IsConnected(),
	}
}

// subjectToken makes an asset id safe for use as one NATS subject token.
func subjectToken(assetID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '-'
		}
		return r
	}, assetID)
}
