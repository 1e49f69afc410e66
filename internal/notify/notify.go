// Package notify delivers human-facing notifications for automated
// responses. Channels are fanned out with per-channel retry; a notification
// may name the channels it wants, otherwise every configured channel
// receives it.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Notification is one message for the security team or affected users.
type Notification struct {
	ID        uuid.UUID      `json:"id"`
	Subject   string         `json:"subject"`
	Message   string         `json:"message"`
	Priority  string         `json:"priority"`
	Channels  []string       `json:"channels,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Channel delivers notifications over one medium.
type Channel interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Notifier builds notifications from action parameters and hands them to
// the dispatcher. It satisfies the response engine's SecurityNotifier.
type Notifier struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewNotifier(dispatcher *Dispatcher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		dispatcher: dispatcher,
		logger:     logger.With("component", "notifier"),
	}
}

// NotifySecurity queues a notification for delivery. Delivery is
// asynchronous with retries, so acceptance here does not mean every channel
// succeeded; failed deliveries land in the dispatcher's dead letter queue.
func (n *Notifier) NotifySecurity(ctx context.Context, subject, message string, meta map[string]any) error {
	if n.dispatcher.ChannelCount() == 0 {
		n.logger.Warn("no notification channels configured", "subject", subject)
		return nil
	}

	notif := &Notification{
		ID:        uuid.New(),
		Subject:   subject,
		Message:   message,
		Priority:  metaPriority(meta),
		Channels:  metaChannels(meta),
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}
	n.dispatcher.Dispatch(ctx, notif)
	return nil
}

func metaPriority(meta map[string]any) string {
	for _, key := range []string{"notification_priority", "alert_priority"} {
		if v, ok := meta[key].(string); ok && v != "" {
			return v
		}
	}
	return "medium"
}

// metaChannels reads the requested channel list, tolerating the []string
// and []any shapes that parameter derivation and JSON decoding produce.
func metaChannels(meta map[string]any) []string {
	switch v := meta["notification_channels"].(type) {
	case []string:
		return v
	case []any:
		channels := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				channels = append(channels, s)
			}
		}
		return channels
	}
	return nil
}
