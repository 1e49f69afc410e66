package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/smtp"
	"sort"
	"strings"
	"time"
)

// WebhookChannel posts the notification as JSON to a configured endpoint.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhookChannel(name, url string, headers map[string]string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

func (w *WebhookChannel) Name() string { return w.name }

func (w *WebhookChannel) Send(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// SlackChannel posts incoming-webhook messages with a priority-colored
// attachment.
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

func NewSlackChannel(webhookURL, channel string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   "warn-respond",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, n *Notification) error {
	payload := map[string]interface{}{
		"channel":  s.channel,
		"username": s.username,
		"attachments": []map[string]interface{}{
			{
				"color":  priorityColor(n.Priority),
				"title":  fmt.Sprintf("[%s] %s", strings.ToUpper(n.Priority), n.Subject),
				"text":   n.Message,
				"fields": s.buildFields(n),
				"footer": fmt.Sprintf("Notification %s", n.ID.String()[:8]),
				"ts":     n.CreatedAt.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// buildFields surfaces the alert metadata analysts reach for first.
func (s *SlackChannel) buildFields(n *Notification) []map[string]interface{} {
	var fields []map[string]interface{}
	for _, key := range []string{"alert_id", "threat_type", "severity", "asset_id", "source_ip"} {
		if v, ok := n.Meta[key].(string); ok && v != "" {
			fields = append(fields, map[string]interface{}{
				"title": strings.ReplaceAll(key, "_", " "), "value": v, "short": true,
			})
		}
	}
	return fields
}

func priorityColor(priority string) string {
	switch priority {
	case "critical":
		return "#FF0000"
	case "high":
		return "#FFA500"
	case "medium":
		return "#FFFF00"
	case "low":
		return "#00FF00"
	default:
		return "#808080"
	}
}

// EmailChannel sends plain-text mail over SMTP.
type EmailChannel struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(host string, port int, username, password, from string, to []string) *EmailChannel {
	if port <= 0 {
		port = 587
	}
	return &EmailChannel{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		send:     smtp.SendMail,
	}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Send(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	if err := e.send(addr, auth, e.from, e.to, e.buildMessage(n)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (e *EmailChannel) buildMessage(n *Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(n.Priority), n.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	if n.Message != "" {
		b.WriteString(n.Message)
		b.WriteString("\r\n\r\n")
	}

	keys := make([]string, 0, len(n.Meta))
	for key := range n.Meta {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "%s: %v\r\n", key, n.Meta[key])
	}

	fmt.Fprintf(&b, "\r\nNotification %s at %s\r\n", n.ID, n.CreatedAt.Format(time.RFC3339))
	return []byte(b.String())
}

// LogChannel writes notifications to the structured log. Used in
// development and as a delivery floor when nothing else is configured.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger.With("component", "notify_log")}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(ctx context.Context, n *Notification) error {
	l.logger.Info("notification",
		"priority", n.Priority,
		"subject", n.Subject,
		"message", n.Message,
		"alert_id", n.Meta["alert_id"])
	return nil
}
