// Package events publishes response lifecycle transitions to Kafka. Every
// accepted submission and every terminal outcome becomes a JSON record on
// the warn.responses topic, so downstream consumers can follow the engine
// without polling it. Publishing is best effort: the engine never blocks
// or fails a response because the event pipe is down.
package events

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

	errs "github.com/srihari-976/W.A.R.N/internal/errors"
	"github.com/srihari-976/W.A.R.N/internal/logging"
	"github.com/srihari-976/W.A.R.N/internal/response"
)

// Event types.
const (
	TypeSubmitted = "response.submitted"
	TypeCompleted = "response.completed"
)

// Event is the wire shape of one lifecycle transition. Params are masked
// and error text is sanitized before the event leaves the process.
type Event struct {
	Type       string         `json:"type"`
	ResponseID string         `json:"response_id"`
	AlertID    string         `json:"alert_id,omitempty"`
	Action     string         `json:"action"`
	Status     string         `json:"status"`
	Priority   string         `json:"priority"`
	Params     map[string]any `json:"params,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	EmittedAt  time.Time      `json:"emitted_at"`
}

// eventFrom builds the outbound view of an instance snapshot.
func eventFrom(typ string, inst *response.Instance) Event {
	return Event{
		Type:       typ,
		ResponseID: inst.ID,
		AlertID:    inst.AlertID,
		Action:     inst.Action,
		Status:     string(inst.Status),
		Priority:   inst.Priority.String(),
		Params:     logging.MaskParams(inst.Params),
		Result:     inst.Result,
		Error:      errs.OutboundText(inst.Error),
		CreatedAt:  inst.CreatedAt,
		UpdatedAt:  inst.UpdatedAt,
		EmittedAt:  time.Now().UTC(),
	}
}

// Config holds producer settings for the lifecycle topic.
type Config struct {
	Brokers    []string      `yaml:"brokers"`
	Topic      string        `yaml:"topic"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns producer settings for a local broker.
func DefaultConfig() Config {
	return Config{
		Brokers:    []string{"localhost:9092"},
		Topic:      "warn.responses",
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

const (
	eventQueueSize    = 256
	eventWriteTimeout = 10 * time.Second
)

// eventWriter is the part of *kafka.Writer the publisher uses. Tests
// substitute a recording implementation.
type eventWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher turns instance snapshots into Kafka records. Hook invocations
// enqueue and return immediately; a single emit goroutine owns the writer.
// A full queue drops the event and counts the drop.
type Publisher struct {
	writer     eventWriter
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration

	queue  chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	published atomic.Uint64
	dropped   atomic.Uint64
	failures  atomic.Uint64
}

// NewPublisher builds a publisher and starts its emit loop. The writer
// connects lazily on the first message.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("events: no topic configured")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events", "topic", cfg.Topic)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
		MaxAttempts:  1,
		WriteTimeout: eventWriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	}

	p := &Publisher{
		writer:     writer,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		queue:      make(chan Event, eventQueueSize),
		done:       make(chan struct{}),
	}

	p.wg.Add(1)
	go p.emitLoop()

	logger.Info("lifecycle event publisher started", "brokers", cfg.Brokers)
	return p, nil
}

// SubmitHook returns a hook publishing a submitted event for every
// accepted response.
func (p *Publisher) SubmitHook() response.Hook {
	return func(inst *response.Instance) { p.publish(TypeSubmitted, inst) }
}

// CompletionHook returns a hook publishing a completed event for every
// terminal outcome, cancellations included.
func (p *Publisher) CompletionHook() response.Hook {
	return func(inst *response.Instance) { p.publish(TypeCompleted, inst) }
}

func (p *Publisher) publish(typ string, inst *response.Instance) {
	if p.closed.Load() || inst == nil {
		return
	}

	select {
	case p.queue <- eventFrom(typ, inst):
	default:
		p.dropped.Add(1)
		p.logger.Warn("event queue full, dropping",
			"type", typ,
			"response_id", inst.ID)
	}
}

func (p *Publisher) emitLoop() {
	defer p.wg.Done()

	for {
		select {
		case ev := <-p.queue:
			p.write(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.queue:
					p.write(ev)
				default:
					return
				}
			}
		}
	}
}

// write publishes one event, retrying transient failures with doubling
// backoff. During shutdown each event gets a single attempt.
func (p *Publisher) write(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.failures.Add(1)
		p.logger.Error("event marshal failed",
			"type", ev.Type,
			"response_id", ev.ResponseID,
			"error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(ev.ResponseID),
		Value: data,
		Time:  ev.EmittedAt,
	}

	retries := p.maxRetries
	if p.closed.Load() {
		retries = 0
	}

	backoff := p.retryDelay
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		if err == nil {
			p.published.Add(1)
			return
		}

		lastErr = err
		if isFatalProduceError(err) {
			break
		}
	}

	p.failures.Add(1)
	p.logger.Error("event publish failed",
		"type", ev.Type,
		"response_id", ev.ResponseID,
		"error", lastErr)
}

// Close drains queued events and closes the writer. Hook calls after Close
// are dropped silently.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	close(p.done)
	p.wg.Wait()

	err := p.writer.Close()

	p.logger.Info("lifecycle event publisher stopped",
		"published", p.published.Load(),
		"dropped", p.dropped.Load(),
		"failures", p.failures.Load())
	return err
}

// Stats returns publisher counters.
func (p *Publisher) Stats() map[string]interface{} {
	return map[string]interface{}{
		"published": p.published.Load(),
		"dropped":   p.dropped.Load(),
		"failures":  p.failures.Load(),
		"queued":    len(p.queue),
	}
}

// isFatalProduceError reports errors retrying cannot fix.
func isFatalProduceError(err error) bool {
	switch {
	case errors.Is(err, kafka.MessageSizeTooLarge):
		return true
	case errors.Is(err, kafka.InvalidTopic):
		return true
	case errors.Is(err, kafka.TopicAuthorizationFailed):
		return true
	}
	return false
}
