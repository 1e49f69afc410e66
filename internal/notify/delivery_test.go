package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedChannel fails a configured number of attempts before succeeding.
type scriptedChannel struct {
	name      string
	mu        sync.Mutex
	calls     int
	failFirst int
	attempted chan struct{}
}

func newScriptedChannel(name string, failFirst int) *scriptedChannel {
	return &scriptedChannel{name: name, failFirst: failFirst, attempted: make(chan struct{}, 64)}
}

func (c *scriptedChannel) Name() string { return c.name }

func (c *scriptedChannel) Send(_ context.Context, _ *Notification) error {
	c.mu.Lock()
	c.calls++
	calls := c.calls
	c.mu.Unlock()

	select {
	case c.attempted <- struct{}{}:
	default:
	}

	if calls <= c.failFirst {
		return fmt.Errorf("attempt %d refused", calls)
	}
	return nil
}

func (c *scriptedChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func fastConfig() DeliveryConfig {
	return DeliveryConfig{
		MaxRetries:     3,
		InitialBackoff: 2 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		BackoffFactor:  2.0,
		AttemptTimeout: time.Second,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDispatcher_DeliversToAllChannels(t *testing.T) {
	chA := newScriptedChannel("a", 0)
	chB := newScriptedChannel("b", 0)
	d := NewDispatcher(fastConfig(), []Channel{chA, chB}, testLogger())
	defer d.Stop()

	n := testNotification()
	d.Dispatch(context.Background(), n)

	waitFor(t, 2*time.Second, func() bool {
		return chA.callCount() == 1 && chB.callCount() == 1
	})

	waitFor(t, 2*time.Second, func() bool {
		records := d.Records(n.ID)
		if len(records) != 2 {
			return false
		}
		for _, rec := range records {
			if rec.Status != DeliverySent {
				return false
			}
		}
		return true
	})
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	ch := newScriptedChannel("flaky", 2)
	d := NewDispatcher(fastConfig(), []Channel{ch}, testLogger())
	defer d.Stop()

	n := testNotification()
	d.Dispatch(context.Background(), n)

	waitFor(t, 2*time.Second, func() bool {
		records := d.Records(n.ID)
		return len(records) == 1 && records[0].Status == DeliverySent
	})

	records := d.Records(n.ID)
	if records[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", records[0].Attempts)
	}
	if records[0].DeliveredAt == nil {
		t.Error("DeliveredAt not set on a sent record")
	}
	if len(d.DeadLetterQueue()) != 0 {
		t.Error("successful delivery landed in the dead letter queue")
	}
}

func TestDispatcher_DeadLetterAfterExhaustion(t *testing.T) {
	ch := newScriptedChannel("down", 100)
	d := NewDispatcher(fastConfig(), []Channel{ch}, testLogger())
	defer d.Stop()

	n := testNotification()
	d.Dispatch(context.Background(), n)

	waitFor(t, 2*time.Second, func() bool {
		return len(d.DeadLetterQueue()) == 1
	})

	dead := d.DeadLetterQueue()[0]
	if dead.Status != DeliveryDeadLetter {
		t.Errorf("status = %s, want dead_letter", dead.Status)
	}
	if dead.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", dead.Attempts)
	}
	if dead.LastError == "" {
		t.Error("dead letter record has no error")
	}

	stats := d.Stats()
	if stats["dead_letter_count"] != 1 {
		t.Errorf("stats dead_letter_count = %v, want 1", stats["dead_letter_count"])
	}
}

func TestDispatcher_ChannelSubset(t *testing.T) {
	chA := newScriptedChannel("slack", 0)
	chB := newScriptedChannel("email", 0)
	d := NewDispatcher(fastConfig(), []Channel{chA, chB}, testLogger())
	defer d.Stop()

	n := testNotification()
	n.Channels = []string{"slack"}
	d.Dispatch(context.Background(), n)

	waitFor(t, 2*time.Second, func() bool { return chA.callCount() == 1 })
	if chB.callCount() != 0 {
		t.Errorf("email channel called %d times, want 0", chB.callCount())
	}
}

func TestDispatcher_UnknownChannelsFallBackToAll(t *testing.T) {
	chA := newScriptedChannel("slack", 0)
	chB := newScriptedChannel("email", 0)
	d := NewDispatcher(fastConfig(), []Channel{chA, chB}, testLogger())
	defer d.Stop()

	n := testNotification()
	n.Channels = []string{"pager"}
	d.Dispatch(context.Background(), n)

	waitFor(t, 2*time.Second, func() bool {
		return chA.callCount() == 1 && chB.callCount() == 1
	})
}

func TestDispatcher_StopInterruptsRetryWait(t *testing.T) {
	ch := newScriptedChannel("down", 100)
	cfg := fastConfig()
	cfg.InitialBackoff = time.Minute
	d := NewDispatcher(cfg, []Channel{ch}, testLogger())

	d.Dispatch(context.Background(), testNotification())

	select {
	case <-ch.attempted:
	case <-time.After(2 * time.Second):
		t.Fatal("first attempt never happened")
	}

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not interrupt the backoff wait")
	}

	dead := d.DeadLetterQueue()
	if len(dead) != 1 || dead[0].LastError != "dispatcher stopped" {
		t.Errorf("dead letter = %+v, want dispatcher stopped record", dead)
	}
}

func TestNotifier_NotifySecurity(t *testing.T) {
	ch := newScriptedChannel("slack", 0)
	d := NewDispatcher(fastConfig(), []Channel{ch, newScriptedChannel("email", 0)}, testLogger())
	defer d.Stop()

	notifier := NewNotifier(d, testLogger())
	meta := map[string]any{
		"alert_id":              "a-7",
		"notification_priority": "high",
		"notification_channels": []string{"slack"},
	}
	if err := notifier.NotifySecurity(context.Background(), "subject", "message", meta); err != nil {
		t.Fatalf("NotifySecurity() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return ch.callCount() == 1 })
}

func TestNotifier_NoChannels(t *testing.T) {
	notifier := NewNotifier(NewDispatcher(fastConfig(), nil, testLogger()), testLogger())
	if err := notifier.NotifySecurity(context.Background(), "s", "m", nil); err != nil {
		t.Errorf("NotifySecurity() error = %v, want nil when unconfigured", err)
	}
}

func TestMetaChannels(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want int
	}{
		{name: "string slice", meta: map[string]any{"notification_channels": []string{"email", "slack"}}, want: 2},
		{name: "any slice from json", meta: map[string]any{"notification_channels": []any{"email", "slack"}}, want: 2},
		{name: "absent", meta: map[string]any{}, want: 0},
		{name: "wrong type", meta: map[string]any{"notification_channels": "email"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := metaChannels(tt.meta); len(got) != tt.want {
				t.Errorf("metaChannels() = %v, want %d entries", got, tt.want)
			}
		})
	}
}

func TestMetaPriority(t *testing.T) {
	if got := metaPriority(map[string]any{"notification_priority": "critical"}); got != "critical" {
		t.Errorf("metaPriority = %s, want critical", got)
	}
	if got := metaPriority(map[string]any{"alert_priority": "high"}); got != "high" {
		t.Errorf("metaPriority = %s, want high", got)
	}
	if got := metaPriority(nil); got != "medium" {
		t.Errorf("metaPriority = %s, want medium default", got)
	}
}
