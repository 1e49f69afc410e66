package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutor records the configs it ran and answers from a scripted
// function.
type fakeExecutor struct {
	kind  string
	calls []map[string]any
	fn    func(config map[string]any) (map[string]any, error)
}

func (f *fakeExecutor) Kind() string { return f.kind }

func (f *fakeExecutor) Run(_ context.Context, config map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, config)
	if f.fn != nil {
		return f.fn(config)
	}
	return map[string]any{"success": true}, nil
}

func boolPtr(b bool) *bool { return &b }

func threeStepDefinition(failFast *bool) *Definition {
	return &Definition{
		Name: "contain-host",
		Steps: []Step{
			{Name: "snapshot", Type: "fake", Config: map[string]any{"step": "one"}},
			{Name: "isolate", Type: "fake", Config: map[string]any{"step": "two"}, FailFast: failFast},
			{Name: "ticket", Type: "fake", Config: map[string]any{"step": "three"}},
		},
	}
}

func TestEngine_Register(t *testing.T) {
	engine := NewEngine(testLogger())

	def := threeStepDefinition(nil)
	if err := engine.Register(def); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := engine.Register(def); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Register() duplicate error = %v, want ErrDuplicateName", err)
	}

	if err := engine.Register(&Definition{Name: "empty"}); err == nil {
		t.Error("Register() accepted a workflow with no steps")
	}

	if err := engine.Register(nil); err == nil {
		t.Error("Register() accepted nil")
	}
}

func TestEngine_Run_AllStepsSucceed(t *testing.T) {
	engine := NewEngine(testLogger())
	fake := &fakeExecutor{kind: "fake"}
	engine.RegisterExecutor(fake)
	if err := engine.Register(threeStepDefinition(nil)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := engine.Run(context.Background(), "contain-host", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !res.Success {
		t.Error("Run() success = false, want true")
	}
	if len(res.Steps) != 3 {
		t.Fatalf("Run() executed %d steps, want 3", len(res.Steps))
	}
	wantOrder := []string{"snapshot", "isolate", "ticket"}
	for i, want := range wantOrder {
		if res.Steps[i].Step != want {
			t.Errorf("step %d = %s, want %s", i, res.Steps[i].Step, want)
		}
	}
}

func TestEngine_Run_FailFastStopsRemainingSteps(t *testing.T) {
	engine := NewEngine(testLogger())
	fake := &fakeExecutor{kind: "fake", fn: func(config map[string]any) (map[string]any, error) {
		if config["step"] == "two" {
			return map[string]any{"success": false, "error": "isolation refused"}, nil
		}
		return map[string]any{"success": true}, nil
	}}
	engine.RegisterExecutor(fake)
	if err := engine.Register(threeStepDefinition(nil)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := engine.Run(context.Background(), "contain-host", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Success {
		t.Error("Run() success = true, want false")
	}
	if len(res.Steps) != 2 {
		t.Fatalf("Run() executed %d steps, want 2", len(res.Steps))
	}
	if res.Steps[1].Step != "isolate" {
		t.Errorf("last executed step = %s, want isolate", res.Steps[1].Step)
	}
	if len(fake.calls) != 2 {
		t.Errorf("executor ran %d times, want 2", len(fake.calls))
	}
}

func TestEngine_Run_FailFastDisabledContinues(t *testing.T) {
	engine := NewEngine(testLogger())
	fake := &fakeExecutor{kind: "fake", fn: func(config map[string]any) (map[string]any, error) {
		if config["step"] == "two" {
			return map[string]any{"success": false, "error": "isolation refused"}, nil
		}
		return map[string]any{"success": true}, nil
	}}
	engine.RegisterExecutor(fake)
	if err := engine.Register(threeStepDefinition(boolPtr(false))); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := engine.Run(context.Background(), "contain-host", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Success {
		t.Error("Run() success = true, want false")
	}
	if len(res.Steps) != 3 {
		t.Fatalf("Run() executed %d steps, want 3", len(res.Steps))
	}
	if !stepSuccess(res.Steps[2].Result) {
		t.Error("step after a non-fail-fast failure did not run to success")
	}
}

func TestEngine_Run_UnknownWorkflow(t *testing.T) {
	engine := NewEngine(testLogger())

	_, err := engine.Run(context.Background(), "nope", nil)
	if !errors.Is(err, ErrUnknownWorkflow) {
		t.Errorf("Run() error = %v, want ErrUnknownWorkflow", err)
	}
}

func TestEngine_Run_UnknownStepType(t *testing.T) {
	engine := NewEngine(testLogger())
	if err := engine.Register(&Definition{
		Name:  "orphan",
		Steps: []Step{{Name: "only", Type: "teleport", Config: map[string]any{"x": 1}}},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := engine.Run(context.Background(), "orphan", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Success {
		t.Error("Run() success = true, want false")
	}
	msg, _ := res.Steps[0].Result["error"].(string)
	if !strings.Contains(msg, "teleport") {
		t.Errorf("step error = %q, want mention of the step type", msg)
	}
}

func TestEngine_Run_ExecutorErrorBecomesStepFailure(t *testing.T) {
	engine := NewEngine(testLogger())
	engine.RegisterExecutor(&fakeExecutor{kind: "fake", fn: func(map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("connection refused")
	}})
	if err := engine.Register(&Definition{
		Name:  "flaky",
		Steps: []Step{{Name: "only", Type: "fake", Config: map[string]any{"x": 1}}},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := engine.Run(context.Background(), "flaky", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Success {
		t.Error("Run() success = true, want false")
	}
	msg, _ := res.Steps[0].Result["error"].(string)
	if msg != "connection refused" {
		t.Errorf("step error = %q, want executor error text", msg)
	}
}

func TestEngine_Run_TemplateRendersContext(t *testing.T) {
	engine := NewEngine(testLogger())
	fake := &fakeExecutor{kind: "fake"}
	engine.RegisterExecutor(fake)
	if err := engine.Register(&Definition{
		Name: "templated",
		Steps: []Step{{
			Name:     "block",
			Type:     "fake",
			Template: `{"command": "block {{.source_ip}}", "ttl": 3600}`,
		}},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := engine.Run(context.Background(), "templated", map[string]any{"source_ip": "203.0.113.7"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Run() success = false, step result %v", res.Steps[0].Result)
	}

	if len(fake.calls) != 1 {
		t.Fatalf("executor ran %d times, want 1", len(fake.calls))
	}
	got := fake.calls[0]
	if got["command"] != "block 203.0.113.7" {
		t.Errorf("rendered command = %v, want block 203.0.113.7", got["command"])
	}
	if got["ttl"] != float64(3600) {
		t.Errorf("rendered ttl = %v (%T), want 3600", got["ttl"], got["ttl"])
	}
}

func TestEngine_Run_TemplateFailureFailsStep(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantIn   string
	}{
		{
			name:     "missing context key",
			template: `{"command": "block {{.missing_key}}"}`,
			wantIn:   "render",
		},
		{
			name:     "rendered output is not json",
			template: `block the ip now`,
			wantIn:   "decode",
		},
		{
			name:     "malformed template",
			template: `{"command": "{{.unclosed"}`,
			wantIn:   "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(testLogger())
			fake := &fakeExecutor{kind: "fake"}
			engine.RegisterExecutor(fake)
			if err := engine.Register(&Definition{
				Name:  "templated",
				Steps: []Step{{Name: "block", Type: "fake", Template: tt.template}},
			}); err != nil {
				t.Fatalf("Register() error = %v", err)
			}

			res, err := engine.Run(context.Background(), "templated", map[string]any{"ip": "x"})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Success {
				t.Error("Run() success = true, want false")
			}
			if len(fake.calls) != 0 {
				t.Error("executor ran despite template failure")
			}
			msg, _ := res.Steps[0].Result["error"].(string)
			if !strings.Contains(msg, tt.wantIn) {
				t.Errorf("step error = %q, want substring %q", msg, tt.wantIn)
			}
		})
	}
}

func TestEngine_Stats(t *testing.T) {
	engine := NewEngine(testLogger())
	engine.RegisterExecutor(&fakeExecutor{kind: "fake", fn: func(map[string]any) (map[string]any, error) {
		return map[string]any{"success": false}, nil
	}})
	if err := engine.Register(&Definition{
		Name:  "failing",
		Steps: []Step{{Name: "only", Type: "fake", Config: map[string]any{"x": 1}}},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := engine.Run(context.Background(), "failing", nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	stats := engine.Stats()
	if stats["runs"] != uint64(1) {
		t.Errorf("stats runs = %v, want 1", stats["runs"])
	}
	if stats["failures"] != uint64(1) {
		t.Errorf("stats failures = %v, want 1", stats["failures"])
	}
	if stats["workflows"] != 1 {
		t.Errorf("stats workflows = %v, want 1", stats["workflows"])
	}
}
