// Package store provides SQLite-backed persistence for response instances.
// Every accepted submission is inserted at queue time and updated once at
// its terminal transition, so the record of what the engine did survives
// restarts. The in-memory history remains the fast path; this store is the
// durable one.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/srihari-976/W.A.R.N/internal/response"
)

// ErrNotFound is returned when no response row matches the given id.
var ErrNotFound = errors.New("store: response not found")

// schemaV1 defines the response table. Timestamps are unix milliseconds.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS responses (
	response_id  TEXT PRIMARY KEY,
	alert_id     TEXT NOT NULL DEFAULT '',
	action       TEXT NOT NULL,
	status       TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 0,
	params_json  TEXT NOT NULL DEFAULT '{}',
	context_json TEXT NOT NULL DEFAULT '{}',
	result_json  TEXT NOT NULL DEFAULT 'null',
	error        TEXT NOT NULL DEFAULT '',
	created_by   TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_created ON responses(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_responses_action ON responses(action, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_responses_status ON responses(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_responses_alert ON responses(alert_id);
`

// hookTimeout bounds the write a lifecycle hook performs.
const hookTimeout = 5 * time.Second

// Store wraps the response database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	saves    atomic.Uint64
	updates  atomic.Uint64
	failures atomic.Uint64
}

// Open opens (or creates) the database at path with WAL pragmas and runs
// the schema migration. SQLite allows one writer, so the pool is capped at
// a single connection.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: empty database path")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts a freshly submitted instance.
func (s *Store) Save(ctx context.Context, inst *response.Instance) error {
	params, rctx, result, err := encodeJSON(inst)
	if err != nil {
		return err
	}

	const q = `INSERT INTO responses (response_id, alert_id, action, status, priority, params_json, context_json, result_json, error, created_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		inst.ID,
		inst.AlertID,
		inst.Action,
		string(inst.Status),
		int(inst.Priority),
		params,
		rctx,
		result,
		inst.Error,
		inst.CreatedBy,
		inst.CreatedAt.UnixMilli(),
		inst.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: save response: %w", err)
	}
	s.saves.Add(1)
	return nil
}

// Update records the current state of an already saved instance. Returns
// ErrNotFound when no row carries the id.
func (s *Store) Update(ctx context.Context, inst *response.Instance) error {
	_, _, result, err := encodeJSON(inst)
	if err != nil {
		return err
	}

	const q = `UPDATE responses SET
	status = ?,
	result_json = ?,
	error = ?,
	updated_at = ?
WHERE response_id = ?`
	res, err := s.db.ExecContext(ctx, q,
		string(inst.Status),
		result,
		inst.Error,
		inst.UpdatedAt.UnixMilli(),
		inst.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update response: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.updates.Add(1)
	return nil
}

// Get retrieves one response by id.
func (s *Store) Get(ctx context.Context, id string) (*response.Instance, error) {
	const q = `SELECT response_id, alert_id, action, status, priority, params_json, context_json, result_json, error, created_by, created_at, updated_at
FROM responses WHERE response_id = ?`

	inst, err := scanInstance(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get response: %w", err)
	}
	return inst, nil
}

// Query filters List results. Zero values mean no filter; Limit defaults
// to 100.
type Query struct {
	Action  string
	Status  string
	AlertID string
	Limit   int
}

// List returns responses newest first.
func (s *Store) List(ctx context.Context, f Query) ([]*response.Instance, error) {
	q := `SELECT response_id, alert_id, action, status, priority, params_json, context_json, result_json, error, created_by, created_at, updated_at
FROM responses`

	var conds []string
	var args []any
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.AlertID != "" {
		conds = append(conds, "alert_id = ?")
		args = append(args, f.AlertID)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list responses: %w", err)
	}
	defer rows.Close()

	var out []*response.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan response: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// CountsByStatus returns how many stored responses sit in each status.
func (s *Store) CountsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM responses GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: count responses: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// PurgeBefore deletes responses created before the cutoff and reports how
// many rows went away.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: purge responses: %w", err)
	}
	return res.RowsAffected()
}

// SubmitHook returns a hook persisting every accepted submission. Hook
// errors are logged and counted; persistence never fails a response.
func (s *Store) SubmitHook() response.Hook {
	return func(inst *response.Instance) {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := s.Save(ctx, inst); err != nil {
			s.failures.Add(1)
			s.logger.Error("persist submission failed",
				"response_id", inst.ID,
				"error", err)
		}
	}
}

// CompletionHook returns a hook recording terminal outcomes. An outcome
// for a row the store never saw is inserted rather than lost.
func (s *Store) CompletionHook() response.Hook {
	return func(inst *response.Instance) {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()

		err := s.Update(ctx, inst)
		if errors.Is(err, ErrNotFound) {
			err = s.Save(ctx, inst)
		}
		if err != nil {
			s.failures.Add(1)
			s.logger.Error("persist outcome failed",
				"response_id", inst.ID,
				"error", err)
		}
	}
}

// Stats returns store counters.
func (s *Store) Stats() map[string]interface{} {
	return map[string]interface{}{
		"saves":    s.saves.Load(),
		"updates":  s.updates.Load(),
		"failures": s.failures.Load(),
	}
}

// encodeJSON marshals the variable-shape instance fields for storage.
func encodeJSON(inst *response.Instance) (params, rctx, result string, err error) {
	p, err := json.Marshal(inst.Params)
	if err != nil {
		return "", "", "", fmt.Errorf("store: marshal params: %w", err)
	}
	c, err := json.Marshal(inst.Context)
	if err != nil {
		return "", "", "", fmt.Errorf("store: marshal context: %w", err)
	}
	r, err := json.Marshal(inst.Result)
	if err != nil {
		return "", "", "", fmt.Errorf("store: marshal result: %w", err)
	}
	return string(p), string(c), string(r), nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*response.Instance, error) {
	var (
		inst       response.Instance
		status     string
		priority   int
		paramsJSON string
		ctxJSON    string
		resultJSON string
		createdMs  int64
		updatedMs  int64
	)

	err := row.Scan(&inst.ID, &inst.AlertID, &inst.Action, &status, &priority,
		&paramsJSON, &ctxJSON, &resultJSON, &inst.Error, &inst.CreatedBy,
		&createdMs, &updatedMs)
	if err != nil {
		return nil, err
	}

	inst.Status = response.Status(status)
	inst.Priority = response.Priority(priority)
	inst.CreatedAt = time.UnixMilli(createdMs).UTC()
	inst.UpdatedAt = time.UnixMilli(updatedMs).UTC()

	if paramsJSON != "" && paramsJSON != "null" {
		if err := json.Unmarshal([]byte(paramsJSON), &inst.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	if ctxJSON != "" && ctxJSON != "null" {
		if err := json.Unmarshal([]byte(ctxJSON), &inst.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if resultJSON != "" && resultJSON != "null" {
		if err := json.Unmarshal([]byte(resultJSON), &inst.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}

	return &inst, nil
}
