package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/srihari-976/W.A.R.N/internal/assets"
	"github.com/srihari-976/W.A.R.N/internal/response"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testAlertMeta() AlertMeta {
	return AlertMeta{
		ID:          "a-100",
		Description: "ransomware beacon detected",
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func actionNames(plan []PlannedAction) []string {
	names := make([]string, len(plan))
	for i, pa := range plan {
		names[i] = pa.Name
	}
	return names
}

func TestPlanActions_RuleTable(t *testing.T) {
	o := New(nil, nil, nil, "", testLogger())
	meta := testAlertMeta()

	tests := []struct {
		name     string
		threat   string
		severity string
		want     []string
	}{
		{
			name:     "malware critical",
			threat:   "malware",
			severity: "critical",
			want:     []string{"isolate_asset", "block_source", "scan_asset", "notify_security"},
		},
		{
			name:     "malware high",
			threat:   "malware",
			severity: "high",
			want:     []string{"block_source", "scan_asset", "notify_security"},
		},
		{
			name:     "malware medium",
			threat:   "malware",
			severity: "medium",
			want:     []string{"scan_asset"},
		},
		{
			name:     "malware low",
			threat:   "malware",
			severity: "low",
			want:     []string{"monitor_asset"},
		},
		{
			name:     "phishing critical",
			threat:   "phishing",
			severity: "critical",
			want:     []string{"block_source", "alert_users", "scan_emails", "notify_security"},
		},
		{
			name:     "brute force medium",
			threat:   "brute_force",
			severity: "medium",
			want:     []string{"block_source"},
		},
		{
			name:     "data exfiltration critical",
			threat:   "data_exfiltration",
			severity: "critical",
			want:     []string{"isolate_asset", "block_destination", "freeze_accounts", "notify_security"},
		},
		{
			name:     "unauthorized access high",
			threat:   "unauthorized_access",
			severity: "high",
			want:     []string{"block_source", "reset_credentials", "notify_security"},
		},
		{
			name:     "suspicious activity low",
			threat:   "suspicious_activity",
			severity: "low",
			want:     []string{"log_activity"},
		},
		{
			name:     "unmapped threat falls back",
			threat:   "cryptomining",
			severity: "medium",
			want:     []string{"log_activity"},
		},
		{
			name:     "unmapped threat critical still notifies",
			threat:   "cryptomining",
			severity: "critical",
			want:     []string{"log_activity", "notify_security"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := actionNames(o.PlanActions(tt.threat, tt.severity, meta, nil))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PlanActions(%s, %s) = %v, want %v", tt.threat, tt.severity, got, tt.want)
			}
		})
	}
}

func TestPlanActions_SeverityFallback(t *testing.T) {
	// A table that defines only some severities
	table, err := NewRuleTable(map[string]map[string][]string{
		"malware": {
			"high": {"block_source"},
			"low":  {"monitor_asset"},
		},
	})
	if err != nil {
		t.Fatalf("NewRuleTable() error = %v", err)
	}
	o := New(table, nil, nil, "", testLogger())
	meta := testAlertMeta()

	t.Run("undefined critical uses high", func(t *testing.T) {
		got := actionNames(o.PlanActions("malware", "critical", meta, nil))
		want := []string{"block_source", "notify_security"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("PlanActions() = %v, want %v", got, want)
		}
	})

	t.Run("undefined medium uses low", func(t *testing.T) {
		got := actionNames(o.PlanActions("malware", "medium", meta, nil))
		want := []string{"monitor_asset"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("PlanActions() = %v, want %v", got, want)
		}
	})

	t.Run("unrecognized severity treated as low", func(t *testing.T) {
		got := actionNames(o.PlanActions("malware", "informational", meta, nil))
		want := []string{"monitor_asset"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("PlanActions() = %v, want %v", got, want)
		}
	})
}

func TestPlanActions_Pure(t *testing.T) {
	o := New(nil, nil, nil, "", testLogger())
	meta := testAlertMeta()
	asset := &assets.Asset{ID: "srv-9", Name: "db-02", Type: "database", IP: "10.0.9.9"}

	first := o.PlanActions("data_exfiltration", "critical", meta, asset)
	second := o.PlanActions("data_exfiltration", "critical", meta, asset)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("PlanActions() not deterministic:\nfirst  = %+v\nsecond = %+v", first, second)
	}
}

func TestPlanActions_NoDuplicateNotify(t *testing.T) {
	table, err := NewRuleTable(map[string]map[string][]string{
		"insider_threat": {
			"critical": {"freeze_accounts", "notify_security"},
		},
	})
	if err != nil {
		t.Fatalf("NewRuleTable() error = %v", err)
	}
	o := New(table, nil, nil, "", testLogger())

	got := actionNames(o.PlanActions("insider_threat", "critical", testAlertMeta(), nil))
	want := []string{"freeze_accounts", "notify_security"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PlanActions() = %v, want notify_security appended once", got)
	}
}

func TestDeriveParams(t *testing.T) {
	meta := testAlertMeta()
	asset := &assets.Asset{ID: "srv-7", Name: "web-03", Type: "server", IP: "10.2.3.4"}

	t.Run("base and asset params", func(t *testing.T) {
		params := deriveParams("monitor_asset", meta, asset)
		if params["alert_id"] != "a-100" {
			t.Errorf("alert_id = %v", params["alert_id"])
		}
		if params["timestamp"] != "2025-06-01T12:00:00Z" {
			t.Errorf("timestamp = %v, want alert time", params["timestamp"])
		}
		if params["asset_id"] != "srv-7" || params["asset_ip"] != "10.2.3.4" {
			t.Errorf("asset params missing: %v", params)
		}
	})

	t.Run("no asset params without asset", func(t *testing.T) {
		params := deriveParams("monitor_asset", meta, nil)
		if _, ok := params["asset_id"]; ok {
			t.Error("asset_id present without an asset")
		}
	})

	t.Run("isolate_asset", func(t *testing.T) {
		params := deriveParams("isolate_asset", meta, asset)
		if params["isolation_duration"] != 3600 {
			t.Errorf("isolation_duration = %v, want 3600", params["isolation_duration"])
		}
		if params["isolation_reason"] != "Alert a-100: ransomware beacon detected" {
			t.Errorf("isolation_reason = %v", params["isolation_reason"])
		}
	})

	t.Run("block_source", func(t *testing.T) {
		params := deriveParams("block_source", meta, nil)
		if params["block_duration"] != 86400 {
			t.Errorf("block_duration = %v, want 86400", params["block_duration"])
		}
		if params["block_reason"] != "Alert a-100: ransomware beacon detected" {
			t.Errorf("block_reason = %v", params["block_reason"])
		}
	})

	t.Run("scan_asset", func(t *testing.T) {
		params := deriveParams("scan_asset", meta, asset)
		if params["scan_type"] != "full" || params["scan_depth"] != "deep" {
			t.Errorf("scan params = %v", params)
		}
	})

	t.Run("alert_users", func(t *testing.T) {
		params := deriveParams("alert_users", meta, nil)
		if params["alert_priority"] != "high" {
			t.Errorf("alert_priority = %v", params["alert_priority"])
		}
		if params["alert_message"] != "Security Alert: ransomware beacon detected" {
			t.Errorf("alert_message = %v", params["alert_message"])
		}
	})

	t.Run("reset_credentials", func(t *testing.T) {
		params := deriveParams("reset_credentials", meta, nil)
		if params["reset_type"] != "force" || params["require_mfa"] != true {
			t.Errorf("reset params = %v", params)
		}
	})

	t.Run("freeze_accounts", func(t *testing.T) {
		params := deriveParams("freeze_accounts", meta, nil)
		if params["freeze_duration"] != 3600 {
			t.Errorf("freeze_duration = %v, want 3600", params["freeze_duration"])
		}
	})

	t.Run("notify_security", func(t *testing.T) {
		params := deriveParams("notify_security", meta, nil)
		if params["notification_priority"] != "high" {
			t.Errorf("notification_priority = %v", params["notification_priority"])
		}
		channels, ok := params["notification_channels"].([]string)
		if !ok || len(channels) != 2 || channels[0] != "email" || channels[1] != "slack" {
			t.Errorf("notification_channels = %v", params["notification_channels"])
		}
	})
}

func TestOrchestrate_SubmitsPlanInOrder(t *testing.T) {
	reg := response.NewRegistry(0, testLogger())
	response.RegisterDefaults(reg, response.Effectors{}, testLogger())
	svc := response.NewService(response.DefaultServiceConfig(), reg, testLogger())

	dir := assets.NewMemoryDirectory()
	dir.Put(context.Background(), &assets.Asset{ID: "srv-1", Name: "web-01", Type: "server", IP: "10.1.1.1"})

	o := New(nil, svc, dir, "", testLogger())

	submitted := o.Orchestrate(context.Background(), Alert{
		ID:          "a-55",
		ThreatType:  "malware",
		Severity:    "critical",
		Description: "trojan detected",
		AssetID:     "srv-1",
		SourceIP:    "198.51.100.7",
		Timestamp:   time.Now().UTC(),
	})

	want := []string{"isolate_asset", "block_source", "scan_asset", "notify_security"}
	if len(submitted) != len(want) {
		t.Fatalf("Orchestrate() submitted %d instances, want %d", len(submitted), len(want))
	}
	for i, inst := range submitted {
		if inst.Action != want[i] {
			t.Errorf("submitted[%d] = %s, want %s", i, inst.Action, want[i])
		}
		if inst.Status != response.StatusPending {
			t.Errorf("submitted[%d] status = %v, want pending", i, inst.Status)
		}
		if inst.AlertID != "a-55" {
			t.Errorf("submitted[%d] alert id = %q, want a-55", i, inst.AlertID)
		}
	}

	// Asset lookup feeds parameter derivation
	if got := submitted[0].Params["asset_ip"]; got != "10.1.1.1" {
		t.Errorf("isolate_asset asset_ip = %v, want directory value", got)
	}
	// Context carries the alert source for the handlers
	if got := submitted[1].Context["source_ip"]; got != "198.51.100.7" {
		t.Errorf("block_source context source_ip = %v", got)
	}
}

func TestOrchestrate_SkipsRejectedActions(t *testing.T) {
	// Registry without scan_asset: that step of the plan must be rejected
	// while the rest goes through.
	reg := response.NewRegistry(0, testLogger())
	reg.Register(response.Definition{
		Name:     "monitor_asset",
		Priority: response.PriorityLow,
		Handler: response.HandlerFunc{ActionName: "monitor_asset", Fn: func(ctx context.Context, params, rctx map[string]any) (any, error) {
			return nil, nil
		}},
	})
	svc := response.NewService(response.DefaultServiceConfig(), reg, testLogger())
	o := New(nil, svc, nil, "", testLogger())

	submitted := o.Orchestrate(context.Background(), Alert{
		ID:         "a-56",
		ThreatType: "malware",
		Severity:   "medium", // plan: scan_asset only
	})
	if len(submitted) != 0 {
		t.Errorf("Orchestrate() = %d instances, want 0 when the only action is unregistered", len(submitted))
	}

	submitted = o.Orchestrate(context.Background(), Alert{
		ID:         "a-57",
		ThreatType: "malware",
		Severity:   "low", // plan: monitor_asset
	})
	if len(submitted) != 1 || submitted[0].Action != "monitor_asset" {
		t.Errorf("Orchestrate() = %v, want the registered action submitted", actionNamesFromInstances(submitted))
	}

	stats := o.Stats()
	if stats["rejections"].(uint64) != 1 {
		t.Errorf("rejections = %v, want 1", stats["rejections"])
	}
}

func actionNamesFromInstances(insts []*response.Instance) []string {
	names := make([]string, len(insts))
	for i, inst := range insts {
		names[i] = inst.Action
	}
	return names
}

func TestLoadRuleTable(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "rules.yaml")
		content := `rules:
  malware:
    critical: [isolate_asset, block_source]
    low: [monitor_asset]
  phishing:
    medium: [alert_users]
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		table, err := LoadRuleTable(path)
		if err != nil {
			t.Fatalf("LoadRuleTable() error = %v", err)
		}
		actions, ok := table.ActionsFor("malware", "critical")
		if !ok || len(actions) != 2 {
			t.Errorf("ActionsFor(malware, critical) = %v, %v", actions, ok)
		}
	})

	t.Run("unknown severity rejected", func(t *testing.T) {
		path := filepath.Join(dir, "bad_severity.yaml")
		os.WriteFile(path, []byte("rules:\n  malware:\n    urgent: [isolate_asset]\n"), 0o644)

		if _, err := LoadRuleTable(path); err == nil {
			t.Error("LoadRuleTable() accepted unknown severity")
		}
	})

	t.Run("empty action list rejected", func(t *testing.T) {
		path := filepath.Join(dir, "empty_actions.yaml")
		os.WriteFile(path, []byte("rules:\n  malware:\n    low: []\n"), 0o644)

		if _, err := LoadRuleTable(path); err == nil {
			t.Error("LoadRuleTable() accepted empty action list")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadRuleTable(filepath.Join(dir, "nope.yaml")); err == nil {
			t.Error("LoadRuleTable() succeeded on missing file")
		}
	})
}

func TestRuleTable_ActionsForCopies(t *testing.T) {
	table := DefaultRuleTable()

	first, _ := table.ActionsFor("malware", "low")
	first[0] = "tampered"

	second, _ := table.ActionsFor("malware", "low")
	if second[0] != "monitor_asset" {
		t.Error("ActionsFor() returned a shared slice; table was mutated")
	}
}

func TestWatcher_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")

	initial := "rules:\n  malware:\n    low: [monitor_asset]\n"
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	table, err := LoadRuleTable(path)
	if err != nil {
		t.Fatalf("LoadRuleTable() error = %v", err)
	}
	o := New(table, nil, nil, "", testLogger())

	w := NewWatcher(path, o, testLogger())
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	updated := "rules:\n  malware:\n    low: [monitor_asset]\n  phishing:\n    medium: [alert_users]\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(o.Table().Threats()) == 2 {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if got := o.Table().Threats(); len(got) != 2 {
		t.Fatalf("table not reloaded, threats = %v", got)
	}

	// A broken rewrite must keep the last good table
	os.WriteFile(path, []byte("rules:\n  malware:\n    urgent: [boom]\n"), 0o644)
	time.Sleep(time.Second)
	if got := o.Table().Threats(); len(got) != 2 {
		t.Errorf("invalid reload replaced the table, threats = %v", got)
	}
}
