package response

import (
	"context"
	"testing"
	"time"
)

func noopHandler(name string) Handler {
	return HandlerFunc{ActionName: name, Fn: func(ctx context.Context, params, rctx map[string]any) (any, error) {
		return nil, nil
	}}
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want bool
	}{
		{
			name: "valid definition",
			def:  Definition{Name: "block_ip", Priority: PriorityHigh, Handler: noopHandler("block_ip")},
			want: true,
		},
		{
			name: "empty name",
			def:  Definition{Handler: noopHandler("")},
			want: false,
		},
		{
			name: "nil handler",
			def:  Definition{Name: "no_handler"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(0, testLogger())
			if got := reg.Register(tt.def); got != tt.want {
				t.Errorf("Register() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := NewRegistry(0, testLogger())

	first := Definition{
		Name:        "isolate_asset",
		Description: "original",
		Priority:    PriorityCritical,
		Handler:     noopHandler("isolate_asset"),
	}
	if !reg.Register(first) {
		t.Fatal("first Register() = false, want true")
	}

	second := Definition{
		Name:        "isolate_asset",
		Description: "imposter",
		Priority:    PriorityLow,
		Handler:     noopHandler("isolate_asset"),
	}
	if reg.Register(second) {
		t.Fatal("duplicate Register() = true, want false")
	}

	// The original definition must survive untouched
	def, ok := reg.Lookup("isolate_asset")
	if !ok {
		t.Fatal("Lookup() failed after duplicate registration")
	}
	if def.Description != "original" || def.Priority != PriorityCritical {
		t.Errorf("definition overwritten by duplicate: %+v", def)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestRegistry_DefaultsApplied(t *testing.T) {
	reg := NewRegistry(42*time.Second, testLogger())

	reg.Register(Definition{Name: "bare", Handler: noopHandler("bare")})

	def, ok := reg.Lookup("bare")
	if !ok {
		t.Fatal("Lookup() failed")
	}
	if def.Timeout != 42*time.Second {
		t.Errorf("Timeout = %v, want registry default 42s", def.Timeout)
	}
	if def.Priority != PriorityMedium {
		t.Errorf("Priority = %v, want medium fallback", def.Priority)
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	for _, name := range []string{"scan_asset", "block_ip", "monitor_asset"} {
		reg.Register(Definition{Name: name, Handler: noopHandler(name)})
	}

	names := reg.Names()
	want := []string{"block_ip", "monitor_asset", "scan_asset"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v (sorted)", names, want)
		}
	}
}

func TestPriority_Parse(t *testing.T) {
	tests := []struct {
		in    string
		want  Priority
		valid bool
	}{
		{"low", PriorityLow, true},
		{"medium", PriorityMedium, true},
		{"high", PriorityHigh, true},
		{"critical", PriorityCritical, true},
		{"urgent", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePriority(tt.in)
			if ok != tt.valid || got != tt.want {
				t.Errorf("ParsePriority(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.valid)
			}
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusInProgress} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestInstance_Clone(t *testing.T) {
	inst := &Instance{
		ID:     "r-1",
		Action: "block_ip",
		Params: map[string]any{"ip_address": "10.0.0.1"},
		Status: StatusPending,
	}

	clone := inst.Clone()
	clone.Params["ip_address"] = "tampered"
	clone.Status = StatusFailed

	if inst.Params["ip_address"] != "10.0.0.1" {
		t.Error("Clone() shares the params map")
	}
	if inst.Status != StatusPending {
		t.Error("Clone() shares the struct")
	}
}
