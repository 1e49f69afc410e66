package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/srihari-976/W.A.R.N/internal/bridge"
)

// fakeReader feeds scripted messages to the consume loop.
type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs)+1)}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m, ok := <-r.msgs:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func (r *fakeReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func testKafkaConsumer(reader kafkaReader, sink AlertSink) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:    DefaultKafkaConfig(),
		reader: reader,
		sink:   sink,
		logger: testLogger(),
	}
}

func alertMessage(t *testing.T, id string, offset int64) kafka.Message {
	t.Helper()
	return kafka.Message{
		Topic:  "warn.alerts",
		Offset: offset,
		Value:  alertPayload(t, id),
	}
}

func TestNewKafkaConsumer_Validation(t *testing.T) {
	sink := &fakeSink{}

	tests := []struct {
		name    string
		cfg     KafkaConfig
		sink    AlertSink
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  DefaultKafkaConfig(),
			sink: sink,
		},
		{
			name:    "no brokers",
			cfg:     KafkaConfig{Topic: "warn.alerts", GroupID: "warn-respond"},
			sink:    sink,
			wantErr: true,
		},
		{
			name:    "no topic",
			cfg:     KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "warn-respond"},
			sink:    sink,
			wantErr: true,
		},
		{
			name:    "no group",
			cfg:     KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "warn.alerts"},
			sink:    sink,
			wantErr: true,
		},
		{
			name:    "nil sink",
			cfg:     DefaultKafkaConfig(),
			sink:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewKafkaConsumer(tt.cfg, tt.sink, testLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			c.reader.Close()
		})
	}
}

func TestKafkaConsumer_DeliversAlerts(t *testing.T) {
	reader := newFakeReader(alertMessage(t, "a-1", 7))
	sink := &fakeSink{}
	c := testKafkaConsumer(reader, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, 2*time.Second, "alert delivery", func() bool {
		return sink.count() == 1 && reader.commitCount() == 1
	})

	if got := sink.record(0).ID; got != "a-1" {
		t.Errorf("record ID = %q, want %q", got, "a-1")
	}
	if got := sink.record(0).ThreatType; got != "malware" {
		t.Errorf("record ThreatType = %q, want %q", got, "malware")
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !reader.isClosed() {
		t.Error("reader not closed after Stop")
	}

	stats := c.Stats()
	if stats["fetched"].(uint64) != 1 {
		t.Errorf("fetched = %v, want 1", stats["fetched"])
	}
	if stats["handled"].(uint64) != 1 {
		t.Errorf("handled = %v, want 1", stats["handled"])
	}
}

func TestKafkaConsumer_CommitsUndecodableMessages(t *testing.T) {
	reader := newFakeReader(kafka.Message{Topic: "warn.alerts", Offset: 3, Value: []byte("not json at all")})
	sink := &fakeSink{}
	c := testKafkaConsumer(reader, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	waitFor(t, 2*time.Second, "poison message commit", func() bool {
		return reader.commitCount() == 1
	})

	if sink.count() != 0 {
		t.Errorf("sink received %d records, want 0", sink.count())
	}
	if got := c.Stats()["rejected"].(uint64); got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}

func TestKafkaConsumer_CommitsInvalidAlerts(t *testing.T) {
	reader := newFakeReader(alertMessage(t, "a-2", 4))
	sink := &fakeSink{err: fmt.Errorf("%w: source missing", bridge.ErrInvalidAlert)}
	c := testKafkaConsumer(reader, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	waitFor(t, 2*time.Second, "invalid alert commit", func() bool {
		return reader.commitCount() == 1
	})

	if got := c.Stats()["rejected"].(uint64); got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
	if got := c.Stats()["handled"].(uint64); got != 0 {
		t.Errorf("handled = %d, want 0", got)
	}
}

func TestKafkaConsumer_UnexpectedSinkErrorCounted(t *testing.T) {
	reader := newFakeReader(alertMessage(t, "a-3", 5))
	sink := &fakeSink{err: errors.New("downstream exploded")}
	c := testKafkaConsumer(reader, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	waitFor(t, 2*time.Second, "failure commit", func() bool {
		return reader.commitCount() == 1
	})

	if got := c.Stats()["failures"].(uint64); got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}
	if got := c.Stats()["rejected"].(uint64); got != 0 {
		t.Errorf("rejected = %d, want 0", got)
	}
}

func TestKafkaConsumer_StopUnblocksFetch(t *testing.T) {
	reader := newFakeReader()
	c := testKafkaConsumer(reader, &fakeSink{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while fetch was blocked")
	}

	if !reader.isClosed() {
		t.Error("reader not closed after Stop")
	}
}

func TestKafkaConsumer_StartTwice(t *testing.T) {
	reader := newFakeReader()
	c := testKafkaConsumer(reader, &fakeSink{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}
