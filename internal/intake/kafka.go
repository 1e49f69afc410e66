package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/srihari-976/W.A.R.N/internal/bridge"
)

// KafkaConfig holds consumer settings for the alert topic.
type KafkaConfig struct {
	Brokers  []string      `yaml:"brokers"`
	Topic    string        `yaml:"topic"`
	GroupID  string        `yaml:"group_id"`
	MinBytes int           `yaml:"min_bytes"`
	MaxBytes int           `yaml:"max_bytes"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

// DefaultKafkaConfig returns consumer settings for a local broker.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:  []string{"localhost:9092"},
		Topic:    "warn.alerts",
		GroupID:  "warn-respond",
		MinBytes: 1,
		MaxBytes: 10 * 1024 * 1024,
		MaxWait:  time.Second,
	}
}

// kafkaReader is the part of *kafka.Reader the consumer uses. Tests
// substitute a scripted implementation.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads alert records from a Kafka topic and hands each one
// to the sink. Offsets are committed after processing regardless of the
// outcome: every error the sink reports is a validation failure, and
// redelivering a malformed record can never make it valid.
type KafkaConsumer struct {
	cfg    KafkaConfig
	reader kafkaReader
	sink   AlertSink
	logger *slog.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	fetched  atomic.Uint64
	handled  atomic.Uint64
	rejected atomic.Uint64
	failures atomic.Uint64
}

// NewKafkaConsumer builds a consumer for the configured alert topic. The
// reader connects lazily on the first fetch.
func NewKafkaConsumer(cfg KafkaConfig, sink AlertSink, logger *slog.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka intake: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka intake: no topic configured")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka intake: no group id configured")
	}
	if sink == nil {
		return nil, fmt.Errorf("kafka intake: nil sink")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "intake.kafka", "topic", cfg.Topic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		Topic:             cfg.Topic,
		MinBytes:          cfg.MinBytes,
		MaxBytes:          cfg.MaxBytes,
		MaxWait:           cfg.MaxWait,
		StartOffset:       kafka.LastOffset,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		RebalanceTimeout:  30 * time.Second,
		ReadBackoffMin:    100 * time.Millisecond,
		ReadBackoffMax:    time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	})

	return &KafkaConsumer{
		cfg:    cfg,
		reader: reader,
		sink:   sink,
		logger: logger,
	}, nil
}

// Start launches the consume loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	if c.started.Swap(true) {
		return fmt.Errorf("kafka intake: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(runCtx)

	c.logger.Info("kafka intake started",
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID)
	return nil
}

func (c *KafkaConsumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || c.closed.Load() {
				return
			}
			c.failures.Add(1)
			c.logger.Error("fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.fetched.Add(1)
		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.failures.Add(1)
			c.logger.Error("commit failed",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
		}
	}
}

func (c *KafkaConsumer) process(ctx context.Context, msg kafka.Message) {
	handleCtx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	var rec bridge.AlertRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		c.rejected.Add(1)
		c.logger.Warn("dropping undecodable alert",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err)
		return
	}

	if _, err := c.sink.Handle(handleCtx, &rec); err != nil {
		if errors.Is(err, bridge.ErrInvalidAlert) {
			c.rejected.Add(1)
			c.logger.Warn("dropping invalid alert",
				"alert_id", rec.ID,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
			return
		}
		c.failures.Add(1)
		c.logger.Error("alert handling failed",
			"alert_id", rec.ID,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err)
		return
	}

	c.handled.Add(1)
}

// Stop halts the consume loop and closes the reader. Safe to call once.
func (c *KafkaConsumer) Stop() error {
	if !c.started.Load() || c.closed.Swap(true) {
		return nil
	}

	c.cancel()
	c.wg.Wait()

	err := c.reader.Close()

	c.logger.Info("kafka intake stopped",
		"fetched", c.fetched.Load(),
		"handled", c.handled.Load(),
		"rejected", c.rejected.Load())
	return err
}

// HealthCheck dials the first broker and confirms the alert topic has
// partitions.
func (c *KafkaConsumer) HealthCheck(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", c.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka intake: dial %s: %w", c.cfg.Brokers[0], err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(c.cfg.Topic); err != nil {
		return fmt.Errorf("kafka intake: read partitions for %s: %w", c.cfg.Topic, err)
	}
	return nil
}

// Stats returns consumer counters.
func (c *KafkaConsumer) Stats() map[string]interface{} {
	return map[string]interface{}{
		"fetched":  c.fetched.Load(),
		"handled":  c.handled.Load(),
		"rejected": c.rejected.Load(),
		"failures": c.failures.Load(),
		"running":  c.started.Load() && !c.closed.Load(),
	}
}
