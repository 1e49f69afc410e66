package intake

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/srihari-976/W.A.R.N/internal/bridge"
	"github.com/srihari-976/W.A.R.N/internal/response"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSink records every alert it receives, or fails them all with err.
type fakeSink struct {
	mu      sync.Mutex
	records []*bridge.AlertRecord
	err     error
}

func (s *fakeSink) Handle(ctx context.Context, rec *bridge.AlertRecord) ([]*response.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.records = append(s.records, rec)
	return nil, nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *fakeSink) record(i int) *bridge.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[i]
}

func alertPayload(t *testing.T, id string) []byte {
	t.Helper()
	rec := bridge.AlertRecord{
		ID:         id,
		Timestamp:  time.Now().UTC(),
		Source:     "edr-agent",
		ThreatType: "malware",
		Severity:   "high",
		Confidence: "high",
		AssetID:    "srv-42",
		SourceIP:   "203.0.113.7",
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal alert: %v", err)
	}
	return data
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
