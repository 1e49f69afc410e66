package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus tracks one channel delivery through its retries.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryRetrying   DeliveryStatus = "retrying"
	DeliveryDeadLetter DeliveryStatus = "dead_letter"
)

// DeliveryRecord is the attempt history for one notification on one channel.
type DeliveryRecord struct {
	ID             uuid.UUID      `json:"id"`
	NotificationID uuid.UUID      `json:"notification_id"`
	ChannelName    string         `json:"channel_name"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	LastAttempt    time.Time      `json:"last_attempt"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
}

// DeliveryConfig tunes the retry behavior.
type DeliveryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		AttemptTimeout: 10 * time.Second,
	}
}

// Dispatcher fans notifications out to channels with exponential-backoff
// retries. Deliveries that exhaust their retries move to a dead letter
// queue for inspection.
type Dispatcher struct {
	config     DeliveryConfig
	channels   []Channel
	logger     *slog.Logger
	mu         sync.RWMutex
	records    map[uuid.UUID]*DeliveryRecord
	deadLetter []*DeliveryRecord
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewDispatcher(cfg DeliveryConfig, channels []Channel, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		config:   cfg,
		channels: channels,
		logger:   logger.With("component", "notify_dispatcher"),
		records:  make(map[uuid.UUID]*DeliveryRecord),
		stopCh:   make(chan struct{}),
	}
}

func (d *Dispatcher) ChannelCount() int { return len(d.channels) }

// Dispatch starts a delivery per target channel and returns immediately.
// The notification's Channels list narrows the fan-out; an empty list means
// every channel. Deliveries detach from the caller's context so an action
// timing out does not abort its notifications; shutdown still stops them.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) {
	detached := context.WithoutCancel(ctx)
	for _, ch := range d.selectChannels(n) {
		record := &DeliveryRecord{
			ID:             uuid.New(),
			NotificationID: n.ID,
			ChannelName:    ch.Name(),
			Status:         DeliveryPending,
			CreatedAt:      time.Now(),
		}

		d.mu.Lock()
		d.records[record.ID] = record
		d.mu.Unlock()

		d.wg.Add(1)
		go d.deliverWithRetry(detached, ch, n, record)
	}
}

func (d *Dispatcher) selectChannels(n *Notification) []Channel {
	if len(n.Channels) == 0 {
		return d.channels
	}
	wanted := make(map[string]bool, len(n.Channels))
	for _, name := range n.Channels {
		wanted[name] = true
	}
	var selected []Channel
	for _, ch := range d.channels {
		if wanted[ch.Name()] {
			selected = append(selected, ch)
		}
	}
	// An unknown channel list falls back to full fan-out rather than
	// silently dropping the notification.
	if len(selected) == 0 {
		return d.channels
	}
	return selected
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, ch Channel, n *Notification, record *DeliveryRecord) {
	defer d.wg.Done()

	backoff := d.config.InitialBackoff
	maxRetries := d.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		d.mu.Lock()
		record.Attempts = attempt
		record.LastAttempt = time.Now()
		if attempt > 1 {
			record.Status = DeliveryRetrying
		}
		d.mu.Unlock()

		attemptCtx, cancel := context.WithTimeout(ctx, d.config.AttemptTimeout)
		err := ch.Send(attemptCtx, n)
		cancel()

		if err == nil {
			now := time.Now()
			d.mu.Lock()
			record.Status = DeliverySent
			record.DeliveredAt = &now
			d.mu.Unlock()

			d.logger.Debug("notification delivered",
				"channel", ch.Name(),
				"notification_id", n.ID,
				"attempts", attempt)
			return
		}

		d.mu.Lock()
		record.LastError = err.Error()
		d.mu.Unlock()

		d.logger.Warn("notification delivery failed",
			"channel", ch.Name(),
			"notification_id", n.ID,
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", err)

		if attempt < maxRetries {
			select {
			case <-d.stopCh:
				d.moveToDeadLetter(record, "dispatcher stopped")
				return
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * d.config.BackoffFactor)
			if backoff > d.config.MaxBackoff {
				backoff = d.config.MaxBackoff
			}
		}
	}

	d.moveToDeadLetter(record, record.LastError)
}

func (d *Dispatcher) moveToDeadLetter(record *DeliveryRecord, reason string) {
	d.mu.Lock()
	record.Status = DeliveryDeadLetter
	record.LastError = reason
	d.deadLetter = append(d.deadLetter, record)
	d.mu.Unlock()

	d.logger.Error("notification moved to dead letter queue",
		"notification_id", record.NotificationID,
		"channel", record.ChannelName,
		"attempts", record.Attempts,
		"reason", reason)
}

// DeadLetterQueue returns the deliveries that exhausted their retries.
func (d *Dispatcher) DeadLetterQueue() []*DeliveryRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]*DeliveryRecord, len(d.deadLetter))
	copy(result, d.deadLetter)
	return result
}

// Records returns delivery records for one notification.
func (d *Dispatcher) Records(notificationID uuid.UUID) []*DeliveryRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var records []*DeliveryRecord
	for _, rec := range d.records {
		if rec.NotificationID == notificationID {
			records = append(records, rec)
		}
	}
	return records
}

// Stats returns delivery counts grouped by status and channel.
func (d *Dispatcher) Stats() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	statusCounts := make(map[string]int)
	channelCounts := make(map[string]map[string]int)
	for _, rec := range d.records {
		statusCounts[string(rec.Status)]++
		if _, ok := channelCounts[rec.ChannelName]; !ok {
			channelCounts[rec.ChannelName] = make(map[string]int)
		}
		channelCounts[rec.ChannelName][string(rec.Status)]++
	}

	return map[string]interface{}{
		"channels":          len(d.channels),
		"total_deliveries":  len(d.records),
		"dead_letter_count": len(d.deadLetter),
		"by_status":         statusCounts,
		"by_channel":        channelCounts,
	}
}

// Stop interrupts retry waits and blocks until in-flight deliveries finish.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}
