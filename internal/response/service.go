package response

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrActionTimeout marks executions that ran past their deadline.
	// The wait is abandoned and the instance fails, but the handler
	// goroutine is left to finish on its own.
	ErrActionTimeout = errors.New("action timeout")
	// ErrNotFound is returned when a response id is unknown.
	ErrNotFound = errors.New("response not found")
	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("response service already running")
)

// ValidationError reports a submission rejected before it reached the queue:
// unknown action names and missing required parameters. Nothing is enqueued
// and no instance is recorded for a rejected submission.
type ValidationError struct {
	Action string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Action == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Action, e.Reason)
}

// DefaultHistoryLimit bounds history queries that do not set their own limit.
const DefaultHistoryLimit = 100

// ServiceConfig holds scheduler tuning.
type ServiceConfig struct {
	// QueueCapacity bounds the number of pending instances.
	QueueCapacity int
	// HistoryCap bounds the terminal-outcome log. The oldest entry is
	// evicted when a new outcome arrives at capacity.
	HistoryCap int
}

// DefaultServiceConfig returns the standard scheduler configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		QueueCapacity: 1024,
		HistoryCap:    100,
	}
}

// Hook observes instance snapshots at submission and terminal transitions.
// Hooks run synchronously on the calling goroutine (submission) or the
// worker goroutine (completion) and must not block for long.
type Hook func(inst *Instance)

// Service validates, queues and executes response actions. A single worker
// drains the priority queue so at most one action runs at a time; everything
// else (submission, cancellation, queries) happens on caller goroutines and
// synchronizes through the state lock.
type Service struct {
	registry *Registry
	queue    *PriorityQueue
	cfg      ServiceConfig
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*Instance // queued, cancellable
	active  map[string]*Instance // executing, at most one
	history []*Instance          // terminal outcomes, oldest first

	hookMu       sync.Mutex
	onSubmit     []Hook
	onCompletion []Hook

	runCtx    context.Context
	runCancel context.CancelFunc
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	running   bool

	// Counters (atomic)
	submitted uint64
	completed uint64
	failed    uint64
	timeouts  uint64
	cancelled uint64
	skipped   uint64
	evicted   uint64
}

// NewService creates a response service over the given registry.
func NewService(cfg ServiceConfig, registry *Registry, logger *slog.Logger) *Service {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultServiceConfig().QueueCapacity
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultServiceConfig().HistoryCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		queue:    NewPriorityQueue(cfg.QueueCapacity),
		cfg:      cfg,
		logger:   logger.With("component", "response_service"),
		pending:  make(map[string]*Instance),
		active:   make(map[string]*Instance),
		history:  make([]*Instance, 0, cfg.HistoryCap),
		stopCh:   make(chan struct{}),
	}
}

// Registry returns the action registry backing this service.
func (s *Service) Registry() *Registry { return s.registry }

// OnSubmit registers a hook invoked with a snapshot of every accepted
// submission.
func (s *Service) OnSubmit(h Hook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onSubmit = append(s.onSubmit, h)
}

// OnCompletion registers a hook invoked with a snapshot of every terminal
// outcome, including cancellations.
func (s *Service) OnCompletion(h Hook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onCompletion = append(s.onCompletion, h)
}

// Start launches the execution worker. It returns ErrAlreadyRunning on a
// second call.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.worker()

	s.logger.Info("response service started",
		"queue_capacity", s.cfg.QueueCapacity,
		"history_cap", s.cfg.HistoryCap,
		"actions", s.registry.Len())
	return nil
}

// Stop shuts the service down: the queue stops accepting work, the in-flight
// execution context is cancelled, and Stop returns once the worker exits.
// Instances still queued at shutdown remain pending and are not failed.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.queue.Close()
		s.mu.Lock()
		if s.runCancel != nil {
			s.runCancel()
		}
		s.running = false
		s.mu.Unlock()
	})
	s.wg.Wait()
	s.logger.Info("response service stopped")
}

// ExecuteResponse validates a submission against the registry and enqueues a
// new pending instance. The returned snapshot carries the assigned id; the
// caller polls or subscribes for the outcome. Rejections surface as
// *ValidationError (unknown action, missing parameters) or a wrapped queue
// error (ErrQueueFull, ErrQueueClosed).
func (s *Service) ExecuteResponse(action string, params, rctx map[string]any) (*Instance, error) {
	def, ok := s.registry.Lookup(action)
	if !ok {
		return nil, &ValidationError{Action: action, Reason: "unknown action"}
	}

	var missing []string
	for _, p := range def.RequiredParams {
		if _, ok := params[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{
			Action: action,
			Reason: fmt.Sprintf("missing required parameters: %v", missing),
		}
	}

	now := time.Now().UTC()
	inst := &Instance{
		ID:        uuid.New().String(),
		Action:    action,
		Params:    params,
		Context:   rctx,
		Status:    StatusPending,
		Priority:  def.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if v, ok := rctx["alert_id"].(string); ok {
		inst.AlertID = v
	}
	if v, ok := rctx["created_by"].(string); ok {
		inst.CreatedBy = v
	}

	// Register as pending before pushing so the worker always finds the
	// instance it just popped.
	s.mu.Lock()
	s.pending[inst.ID] = inst
	s.mu.Unlock()

	if err := s.queue.Push(inst); err != nil {
		s.mu.Lock()
		delete(s.pending, inst.ID)
		s.mu.Unlock()
		return nil, fmt.Errorf("enqueue %s: %w", action, err)
	}

	atomic.AddUint64(&s.submitted, 1)
	s.logger.Debug("response queued",
		"response_id", inst.ID,
		"action", action,
		"priority", inst.Priority.String())

	snapshot := inst.Clone()
	s.notify(s.submitHooks(), snapshot)
	return snapshot, nil
}

// Cancel aborts a pending instance. It returns true only when the instance
// was still pending; once execution has started the race is lost and the
// execution runs to its own outcome.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	inst, ok := s.pending[id]
	if !ok || inst.Status != StatusPending {
		s.mu.Unlock()
		return false
	}
	inst.Status = StatusCancelled
	inst.UpdatedAt = time.Now().UTC()
	delete(s.pending, id)
	s.appendHistoryLocked(inst)
	snapshot := inst.Clone()
	s.mu.Unlock()

	atomic.AddUint64(&s.cancelled, 1)
	s.logger.Info("response cancelled", "response_id", id, "action", snapshot.Action)
	s.notify(s.completionHooks(), snapshot)
	return true
}

// Get returns a snapshot of the instance with the given id, searching the
// pending set, the active set and the history.
func (s *Service) Get(id string) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inst, ok := s.active[id]; ok {
		return inst.Clone(), true
	}
	if inst, ok := s.pending[id]; ok {
		return inst.Clone(), true
	}
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].ID == id {
			return s.history[i].Clone(), true
		}
	}
	return nil, false
}

// Active returns snapshots of currently executing instances. With a single
// worker the slice holds at most one entry.
func (s *Service) Active() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Instance, 0, len(s.active))
	for _, inst := range s.active {
		out = append(out, inst.Clone())
	}
	return out
}

// Pending returns snapshots of queued instances in no particular order.
func (s *Service) Pending() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Instance, 0, len(s.pending))
	for _, inst := range s.pending {
		out = append(out, inst.Clone())
	}
	return out
}

// HistoryQuery filters terminal outcomes. Zero values disable a filter; a
// non-positive limit falls back to DefaultHistoryLimit.
type HistoryQuery struct {
	Limit  int
	Action string
	Status Status
}

// History returns snapshots of terminal outcomes, newest first.
func (s *Service) History(q HistoryQuery) []*Instance {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Instance, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		inst := s.history[i]
		if q.Action != "" && inst.Action != q.Action {
			continue
		}
		if q.Status != "" && inst.Status != q.Status {
			continue
		}
		out = append(out, inst.Clone())
	}
	return out
}

// QueueMetrics returns a snapshot of queue counters.
func (s *Service) QueueMetrics() QueueMetrics {
	return s.queue.Metrics()
}

// Stats returns scheduler counters for logging and the console.
func (s *Service) Stats() map[string]interface{} {
	s.mu.Lock()
	running := s.running
	pending := len(s.pending)
	active := len(s.active)
	historyLen := len(s.history)
	s.mu.Unlock()

	qm := s.queue.Metrics()
	return map[string]interface{}{
		"running":            running,
		"registered_actions": s.registry.Len(),
		"queue_depth":        qm.Depth,
		"queue_capacity":     qm.Capacity,
		"queue_dropped":      qm.Dropped,
		"pending":            pending,
		"active":             active,
		"history":            historyLen,
		"history_cap":        s.cfg.HistoryCap,
		"submitted":          atomic.LoadUint64(&s.submitted),
		"completed":          atomic.LoadUint64(&s.completed),
		"failed":             atomic.LoadUint64(&s.failed),
		"timeouts":           atomic.LoadUint64(&s.timeouts),
		"cancelled":          atomic.LoadUint64(&s.cancelled),
		"skipped":            atomic.LoadUint64(&s.skipped),
		"evicted":            atomic.LoadUint64(&s.evicted),
	}
}

// worker drains the queue one instance at a time.
func (s *Service) worker() {
	defer s.wg.Done()

	for {
		inst, err := s.queue.PopBlocking()
		if err != nil {
			return
		}

		select {
		case <-s.stopCh:
			return
		default:
		}

		s.process(inst)
	}
}

// process moves one popped instance through execution. Panics inside
// handlers are converted to failures so a broken handler can never take the
// worker down.
func (s *Service) process(inst *Instance) {
	s.mu.Lock()
	cur, ok := s.pending[inst.ID]
	if !ok || cur.Status != StatusPending {
		// Cancelled between push and pop.
		s.mu.Unlock()
		atomic.AddUint64(&s.skipped, 1)
		return
	}
	if _, dup := s.active[inst.ID]; dup {
		s.mu.Unlock()
		atomic.AddUint64(&s.skipped, 1)
		s.logger.Warn("skipping duplicate response id", "response_id", inst.ID)
		return
	}
	delete(s.pending, inst.ID)
	inst.Status = StatusInProgress
	inst.UpdatedAt = time.Now().UTC()
	s.active[inst.ID] = inst
	runCtx := s.runCtx
	s.mu.Unlock()

	def, ok := s.registry.Lookup(inst.Action)
	if !ok {
		// Unreachable through ExecuteResponse; kept so a popped instance
		// always reaches a terminal state.
		s.finish(inst, nil, fmt.Errorf("action %s is no longer registered", inst.Action))
		return
	}

	s.logger.Info("executing response",
		"response_id", inst.ID,
		"action", inst.Action,
		"priority", inst.Priority.String(),
		"timeout", def.Timeout.String())

	result, err := s.executeWithTimeout(runCtx, def, inst)
	s.finish(inst, result, err)
}

type execOutcome struct {
	result any
	err    error
}

// executeWithTimeout runs the handler on its own goroutine and waits up to
// the definition timeout. On timeout the wait is abandoned, not the work:
// the handler keeps its cancelled context and finishes whenever it finishes.
func (s *Service) executeWithTimeout(parent context.Context, def *Definition, inst *Instance) (any, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, def.Timeout)
	defer cancel()

	resCh := make(chan execOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- execOutcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := def.Handler.Execute(ctx, inst.Params, inst.Context)
		resCh <- execOutcome{result: result, err: err}
	}()

	select {
	case out := <-resCh:
		// A handler that returns promptly on its cancelled context still
		// counts as a timeout.
		if errors.Is(out.err, context.DeadlineExceeded) {
			atomic.AddUint64(&s.timeouts, 1)
			return nil, fmt.Errorf("%w after %s", ErrActionTimeout, def.Timeout)
		}
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			atomic.AddUint64(&s.timeouts, 1)
			return nil, fmt.Errorf("%w after %s", ErrActionTimeout, def.Timeout)
		}
		return nil, fmt.Errorf("execution abandoned: %v", ctx.Err())
	}
}

// finish records the terminal outcome and fires completion hooks.
func (s *Service) finish(inst *Instance, result any, err error) {
	s.mu.Lock()
	delete(s.active, inst.ID)
	inst.UpdatedAt = time.Now().UTC()
	if err != nil {
		inst.Status = StatusFailed
		inst.Error = err.Error()
	} else {
		inst.Status = StatusCompleted
		inst.Result = result
	}
	s.appendHistoryLocked(inst)
	snapshot := inst.Clone()
	s.mu.Unlock()

	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		s.logger.Error("response failed",
			"response_id", inst.ID,
			"action", inst.Action,
			"error", err.Error(),
			"duration", snapshot.Duration().String())
	} else {
		atomic.AddUint64(&s.completed, 1)
		s.logger.Info("response completed",
			"response_id", inst.ID,
			"action", inst.Action,
			"duration", snapshot.Duration().String())
	}

	s.notify(s.completionHooks(), snapshot)
}

// appendHistoryLocked adds a terminal instance to the history, evicting the
// oldest entry at capacity. Caller must hold s.mu.
func (s *Service) appendHistoryLocked(inst *Instance) {
	if len(s.history) >= s.cfg.HistoryCap {
		drop := len(s.history) - s.cfg.HistoryCap + 1
		s.history = append(s.history[:0], s.history[drop:]...)
		atomic.AddUint64(&s.evicted, uint64(drop))
	}
	s.history = append(s.history, inst)
}

func (s *Service) submitHooks() []Hook {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return append([]Hook(nil), s.onSubmit...)
}

func (s *Service) completionHooks() []Hook {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return append([]Hook(nil), s.onCompletion...)
}

func (s *Service) notify(hooks []Hook, inst *Instance) {
	for _, h := range hooks {
		h(inst)
	}
}
