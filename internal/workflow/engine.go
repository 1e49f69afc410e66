package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"text/template"
)

// Engine errors.
var (
	ErrUnknownWorkflow = errors.New("unknown workflow")
	ErrDuplicateName   = errors.New("workflow already registered")
)

// StepExecutor runs one kind of workflow step. Run either returns a result
// map that carries a boolean "success" key, or an error for failures that
// prevented the step from producing a result at all.
type StepExecutor interface {
	Kind() string
	Run(ctx context.Context, config map[string]any) (map[string]any, error)
}

// StepResult pairs a step name with whatever its executor produced.
type StepResult struct {
	Step   string         `json:"step"`
	Result map[string]any `json:"result"`
}

// Result is the outcome of one workflow run. Steps holds an entry for every
// step that executed, in order. Success is true only when every executed
// step succeeded; steps skipped by fail-fast do not count either way.
type Result struct {
	Workflow string       `json:"workflow"`
	Success  bool         `json:"success"`
	Steps    []StepResult `json:"steps"`
}

// Engine holds registered workflow definitions and step executors and runs
// workflows on demand. Safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	workflows map[string]*Definition
	executors map[string]StepExecutor
	logger    *slog.Logger

	runs     atomic.Uint64
	failures atomic.Uint64
}

// NewEngine creates an engine with no workflows or executors registered.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		workflows: make(map[string]*Definition),
		executors: make(map[string]StepExecutor),
		logger:    logger.With("component", "workflow"),
	}
}

// RegisterExecutor makes a step executor available under its kind. A later
// registration for the same kind replaces the earlier one.
func (e *Engine) RegisterExecutor(ex StepExecutor) {
	if ex == nil || ex.Kind() == "" {
		return
	}
	e.mu.Lock()
	e.executors[ex.Kind()] = ex
	e.mu.Unlock()
}

// Register adds a workflow definition. Names are unique.
func (e *Engine) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("nil workflow definition")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workflows[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

// Definitions returns the registered workflows.
func (e *Engine) Definitions() []*Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	defs := make([]*Definition, 0, len(e.workflows))
	for _, def := range e.workflows {
		defs = append(defs, def)
	}
	return defs
}

// Run executes the named workflow with the given run context. Steps run in
// definition order. A step whose config cannot be rendered, whose type has
// no executor, or whose executor reports failure counts as failed; when the
// step's fail_fast flag is set the remaining steps are skipped. Run returns
// an error only when the workflow name is unknown; per-step failures are
// reported through the Result.
func (e *Engine) Run(ctx context.Context, name string, runCtx map[string]any) (*Result, error) {
	e.mu.RLock()
	def, ok := e.workflows[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}

	e.runs.Add(1)
	res := &Result{Workflow: name, Success: true}
	for _, step := range def.Steps {
		stepRes := e.runStep(ctx, step, runCtx)
		res.Steps = append(res.Steps, StepResult{Step: step.Name, Result: stepRes})

		if !stepSuccess(stepRes) {
			res.Success = false
			e.logger.Warn("workflow step failed",
				"workflow", name,
				"step", step.Name,
				"fail_fast", step.failFast())
			if step.failFast() {
				break
			}
		}
	}

	if !res.Success {
		e.failures.Add(1)
	}
	e.logger.Info("workflow finished",
		"workflow", name,
		"success", res.Success,
		"steps_executed", len(res.Steps))
	return res, nil
}

// runStep resolves the step config and dispatches to its executor. Failures
// are folded into a result map so the caller has a uniform shape to record.
func (e *Engine) runStep(ctx context.Context, step Step, runCtx map[string]any) map[string]any {
	cfg, err := stepConfig(step, runCtx)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}

	e.mu.RLock()
	ex, ok := e.executors[step.Type]
	e.mu.RUnlock()
	if !ok {
		return map[string]any{"success": false, "error": fmt.Sprintf("no executor for step type %q", step.Type)}
	}

	out, err := ex.Run(ctx, cfg)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	if out == nil {
		out = map[string]any{"success": false, "error": "executor returned no result"}
	}
	return out
}

// stepConfig produces the effective config for a step. A template renders
// against the run context and must yield a JSON object; any parse, render,
// or decode error fails the step.
func stepConfig(step Step, runCtx map[string]any) (map[string]any, error) {
	if step.Template == "" {
		return step.Config, nil
	}

	tmpl, err := template.New(step.Name).Option("missingkey=error").Parse(step.Template)
	if err != nil {
		return nil, fmt.Errorf("parse step template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, runCtx); err != nil {
		return nil, fmt.Errorf("render step template: %w", err)
	}

	var cfg map[string]any
	if err := json.Unmarshal(buf.Bytes(), &cfg); err != nil {
		return nil, fmt.Errorf("decode rendered step config: %w", err)
	}
	return cfg, nil
}

func stepSuccess(result map[string]any) bool {
	ok, _ := result["success"].(bool)
	return ok
}

// Stats returns engine counters for diagnostics.
func (e *Engine) Stats() map[string]interface{} {
	e.mu.RLock()
	workflows := len(e.workflows)
	executors := len(e.executors)
	e.mu.RUnlock()
	return map[string]interface{}{
		"workflows": workflows,
		"executors": executors,
		"runs":      e.runs.Load(),
		"failures":  e.failures.Load(),
	}
}
