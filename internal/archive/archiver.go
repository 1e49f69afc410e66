package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	errs "github.com/srihari-976/W.A.R.N/internal/errors"
	"github.com/srihari-976/W.A.R.N/internal/logging"
	"github.com/srihari-976/W.A.R.N/internal/response"
)

const flushTimeout = 30 * time.Second

// ObjectPutter is the part of the S3 client the batch exporter uses.
type ObjectPutter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// row is one archived outcome. Params are masked and error text sanitized
// at hook time, so nothing sensitive sits in the queue.
type row struct {
	ResponseID string          `json:"response_id"`
	AlertID    string          `json:"alert_id,omitempty"`
	Action     string          `json:"action"`
	Status     string          `json:"status"`
	Priority   string          `json:"priority"`
	Params     json.RawMessage `json:"params"`
	Context    json.RawMessage `json:"context"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error,omitempty"`
	CreatedBy  string          `json:"created_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func encodeRow(inst *response.Instance) (row, error) {
	params, err := json.Marshal(logging.MaskParams(inst.Params))
	if err != nil {
		return row{}, fmt.Errorf("archive: marshal params: %w", err)
	}
	rctx, err := json.Marshal(inst.Context)
	if err != nil {
		return row{}, fmt.Errorf("archive: marshal context: %w", err)
	}
	result, err := json.Marshal(inst.Result)
	if err != nil {
		return row{}, fmt.Errorf("archive: marshal result: %w", err)
	}
	return row{
		ResponseID: inst.ID,
		AlertID:    inst.AlertID,
		Action:     inst.Action,
		Status:     string(inst.Status),
		Priority:   inst.Priority.String(),
		Params:     params,
		Context:    rctx,
		Result:     result,
		Error:      errs.OutboundText(inst.Error),
		CreatedBy:  inst.CreatedBy,
		CreatedAt:  inst.CreatedAt,
		UpdatedAt:  inst.UpdatedAt,
	}, nil
}

// Archiver batches terminal outcomes into ClickHouse inserts. Hook
// invocations enqueue and return immediately; a single flush goroutine
// owns the connection and flushes at BatchSize or every FlushInterval,
// whichever comes first. A full queue drops the row and counts the drop.
type Archiver struct {
	conn     chConn
	exporter ObjectPutter
	logger   *slog.Logger

	table       string
	insertQuery string

	batchSize     int
	flushInterval time.Duration
	maxRetries    int
	retryDelay    time.Duration
	retentionDays int

	queue  chan row
	done   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	archived      atomic.Uint64
	batches       atomic.Uint64
	dropped       atomic.Uint64
	failures      atomic.Uint64
	exported      atomic.Uint64
	exportFailure atomic.Uint64
}

// New connects to ClickHouse, ensures the history table, and starts the
// flush loop. exporter may be nil; with one, every flushed batch is also
// written to object storage as JSONL.
func New(cfg Config, exporter ObjectPutter, logger *slog.Logger) (*Archiver, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("archive: no clickhouse hosts configured")
	}
	if cfg.Table == "" {
		cfg.Table = "response_history"
	}
	if err := validateTable(cfg.Table); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "archive", "table", cfg.Table)

	conn, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	a := &Archiver{
		conn:          conn,
		exporter:      exporter,
		logger:        logger,
		table:         cfg.Table,
		insertQuery:   insertQueryFor(cfg.Table),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		retentionDays: cfg.RetentionDays,
		queue:         make(chan row, cfg.BatchSize*4),
		done:          make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.ensureTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if err := a.applyRetention(ctx); err != nil {
		logger.Warn("retention TTL not applied", "error", err)
	}

	a.wg.Add(1)
	go a.flushLoop()

	logger.Info("archiver started",
		"hosts", cfg.Hosts,
		"batch_size", cfg.BatchSize,
		"flush_interval", cfg.FlushInterval,
		"retention_days", cfg.RetentionDays)
	return a, nil
}

// CompletionHook returns a hook queueing every terminal outcome,
// cancellations included.
func (a *Archiver) CompletionHook() response.Hook {
	return func(inst *response.Instance) { a.enqueue(inst) }
}

func (a *Archiver) enqueue(inst *response.Instance) {
	if a.closed.Load() || inst == nil {
		return
	}

	r, err := encodeRow(inst)
	if err != nil {
		a.failures.Add(1)
		a.logger.Error("archive row not encodable", "response_id", inst.ID, "error", err)
		return
	}

	select {
	case a.queue <- r:
	default:
		a.dropped.Add(1)
		a.logger.Warn("archive queue full, dropping", "response_id", inst.ID)
	}
}

func (a *Archiver) flushLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	pending := make([]row, 0, a.batchSize)

	for {
		select {
		case r := <-a.queue:
			pending = append(pending, r)
			if len(pending) >= a.batchSize {
				a.flush(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				a.flush(pending)
				pending = pending[:0]
			}
		case <-a.done:
			for {
				select {
				case r := <-a.queue:
					pending = append(pending, r)
					if len(pending) >= a.batchSize {
						a.flush(pending)
						pending = pending[:0]
					}
				default:
					if len(pending) > 0 {
						a.flush(pending)
					}
					return
				}
			}
		}
	}
}

// flush inserts one batch, retrying transient failures with a growing
// delay. After shutdown begins each batch gets a single attempt.
func (a *Archiver) flush(rows []row) {
	for attempt := 1; ; attempt++ {
		err := a.insert(rows)
		if err == nil {
			a.batches.Add(1)
			a.archived.Add(uint64(len(rows)))
			break
		}
		if attempt > a.maxRetries || a.closed.Load() {
			a.failures.Add(uint64(len(rows)))
			a.logger.Error("archive batch lost",
				"rows", len(rows),
				"attempts", attempt,
				"error", err)
			break
		}
		a.logger.Warn("archive insert failed, retrying",
			"rows", len(rows),
			"attempt", attempt,
			"error", err)
		time.Sleep(a.retryDelay * time.Duration(attempt))
	}

	a.export(rows)
}

func (a *Archiver) insert(rows []row) error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	batch, err := a.conn.PrepareBatch(ctx, a.insertQuery)
	if err != nil {
		return fmt.Errorf("archive: prepare batch: %w", err)
	}

	for _, r := range rows {
		err := batch.Append(
			r.ResponseID,
			r.AlertID,
			r.Action,
			r.Status,
			r.Priority,
			string(r.Params),
			string(r.Context),
			string(r.Result),
			r.Error,
			r.CreatedBy,
			r.CreatedAt,
			r.UpdatedAt,
		)
		if err != nil {
			batch.Abort()
			return fmt.Errorf("archive: append row %s: %w", r.ResponseID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("archive: send batch: %w", err)
	}
	return nil
}

// export writes the batch as one gzipped JSONL object. Export is best
// effort and independent of the insert outcome, so a ClickHouse outage
// still leaves a cold copy.
func (a *Archiver) export(rows []row) {
	if a.exporter == nil {
		return
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			a.exportFailure.Add(1)
			a.logger.Error("archive export encode failed", "response_id", r.ResponseID, "error", err)
			return
		}
	}
	if err := gz.Close(); err != nil {
		a.exportFailure.Add(1)
		a.logger.Error("archive export compress failed", "error", err)
		return
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%d.jsonl.gz", now.Format("2006/01/02"), now.UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	location, err := a.exporter.Put(ctx, key, buf.Bytes(), "application/gzip")
	if err != nil {
		a.exportFailure.Add(1)
		a.logger.Warn("archive export failed", "key", key, "rows", len(rows), "error", err)
		return
	}

	a.exported.Add(uint64(len(rows)))
	a.logger.Debug("archive batch exported", "location", location, "rows", len(rows))
}

func (a *Archiver) ensureTable(ctx context.Context) error {
	if err := a.conn.Exec(ctx, fmt.Sprintf(schemaTemplate, a.table)); err != nil {
		return fmt.Errorf("archive: create table %s: %w", a.table, err)
	}
	return nil
}

// applyRetention sets a delete TTL on the table. ClickHouse enforces it
// during background merges, so expiry is eventual.
func (a *Archiver) applyRetention(ctx context.Context) error {
	if a.retentionDays <= 0 {
		return nil
	}
	query := fmt.Sprintf("ALTER TABLE %s MODIFY TTL created_at + INTERVAL %d DAY DELETE",
		a.table, a.retentionDays)
	if err := a.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("archive: modify ttl: %w", err)
	}
	return nil
}

// Close drains whatever the hooks managed to enqueue, flushes it, and
// closes the connection.
func (a *Archiver) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	close(a.done)
	a.wg.Wait()
	err := a.conn.Close()
	a.logger.Info("archiver stopped",
		"archived", a.archived.Load(),
		"dropped", a.dropped.Load(),
		"failures", a.failures.Load())
	return err
}

// Stats reports archiver counters.
func (a *Archiver) Stats() map[string]interface{} {
	return map[string]interface{}{
		"archived":        a.archived.Load(),
		"batches":         a.batches.Load(),
		"dropped":         a.dropped.Load(),
		"failures":        a.failures.Load(),
		"exported":        a.exported.Load(),
		"export_failures": a.exportFailure.Load(),
		"queued":          len(a.queue),
	}
}
