package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/srihari-976/W.A.R.N/internal/assets"
	"github.com/srihari-976/W.A.R.N/internal/response"
)

// FallbackAction is submitted for threat types the rule table does not map.
const FallbackAction = "log_activity"

// Alert is a classified alert ready for orchestration.
type Alert struct {
	ID            string
	ThreatType    string
	Severity      string
	Description   string
	AssetID       string
	SourceIP      string
	DestinationIP string
	Timestamp     time.Time
}

// Orchestrator expands classified alerts into remediation plans and submits
// each planned action to the response service.
type Orchestrator struct {
	table          atomic.Pointer[RuleTable]
	svc            *response.Service
	dir            assets.Directory
	fallbackAction string
	logger         *slog.Logger

	orchestrated uint64
	submissions  uint64
	rejections   uint64
	reloads      uint64
}

// New creates an orchestrator. dir may be nil; asset parameters are then
// omitted from derived plans.
func New(table *RuleTable, svc *response.Service, dir assets.Directory, fallbackAction string, logger *slog.Logger) *Orchestrator {
	if table == nil {
		table = DefaultRuleTable()
	}
	if fallbackAction == "" {
		fallbackAction = FallbackAction
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		svc:            svc,
		dir:            dir,
		fallbackAction: fallbackAction,
		logger:         logger.With("component", "orchestrator"),
	}
	o.table.Store(table)
	return o
}

// Table returns the current rule table.
func (o *Orchestrator) Table() *RuleTable {
	return o.table.Load()
}

// ReplaceTable atomically swaps in a new rule table. In-flight plans keep
// the table they started with.
func (o *Orchestrator) ReplaceTable(t *RuleTable) {
	if t == nil {
		return
	}
	o.table.Store(t)
	atomic.AddUint64(&o.reloads, 1)
	o.logger.Info("rule table replaced", "threat_types", len(t.Threats()))
}

// PlanActions expands (threat_type, severity, alert, asset) into an ordered
// remediation plan. The expansion is a pure function of its inputs and the
// current rule table:
//   - unmapped threat types degrade to the fallback action
//   - an undefined severity falls back to the next lower defined one
//   - critical and high severity plans always end with notify_security
func (o *Orchestrator) PlanActions(threatType, severity string, alert AlertMeta, asset *assets.Asset) []PlannedAction {
	names, ok := o.table.Load().ActionsFor(threatType, severity)
	if !ok || len(names) == 0 {
		names = []string{o.fallbackAction}
	}

	if severity == "critical" || severity == "high" {
		names = unionAppend(names, "notify_security")
	}

	plan := make([]PlannedAction, 0, len(names))
	for _, name := range names {
		plan = append(plan, PlannedAction{
			Name:   name,
			Params: deriveParams(name, alert, asset),
		})
	}
	return plan
}

// Orchestrate plans and submits the response to one classified alert,
// returning the accepted instances in plan order. Individual submission
// failures are logged and skipped so one unregistered action cannot sink the
// rest of the plan.
func (o *Orchestrator) Orchestrate(ctx context.Context, alert Alert) []*response.Instance {
	atomic.AddUint64(&o.orchestrated, 1)

	var asset *assets.Asset
	if o.dir != nil && alert.AssetID != "" {
		a, err := o.dir.Get(ctx, alert.AssetID)
		switch {
		case err == nil:
			asset = a
		case errors.Is(err, assets.ErrNotFound):
			o.logger.Debug("alert references unknown asset", "alert_id", alert.ID, "asset_id", alert.AssetID)
		default:
			o.logger.Warn("asset lookup failed", "alert_id", alert.ID, "asset_id", alert.AssetID, "error", err.Error())
		}
	}

	meta := AlertMeta{ID: alert.ID, Description: alert.Description, Timestamp: alert.Timestamp}
	plan := o.PlanActions(alert.ThreatType, alert.Severity, meta, asset)

	o.logger.Info("orchestrating alert",
		"alert_id", alert.ID,
		"threat_type", alert.ThreatType,
		"severity", alert.Severity,
		"actions", len(plan))

	submitted := make([]*response.Instance, 0, len(plan))
	for _, pa := range plan {
		inst, err := o.svc.ExecuteResponse(pa.Name, pa.Params, o.buildContext(alert))
		if err != nil {
			atomic.AddUint64(&o.rejections, 1)
			o.logger.Warn("planned action rejected",
				"alert_id", alert.ID,
				"action", pa.Name,
				"error", err.Error())
			continue
		}
		atomic.AddUint64(&o.submissions, 1)
		submitted = append(submitted, inst)
	}
	return submitted
}

// buildContext assembles the per-instance response context. Each submission
// gets its own map so handlers can never share mutations across instances.
func (o *Orchestrator) buildContext(alert Alert) map[string]any {
	rctx := map[string]any{
		"alert_id":    alert.ID,
		"threat_type": alert.ThreatType,
		"severity":    alert.Severity,
		"created_by":  "orchestrator",
	}
	if alert.Description != "" {
		rctx["description"] = alert.Description
	}
	if alert.AssetID != "" {
		rctx["asset_id"] = alert.AssetID
	}
	if alert.SourceIP != "" {
		rctx["source_ip"] = alert.SourceIP
	}
	if alert.DestinationIP != "" {
		rctx["destination_ip"] = alert.DestinationIP
	}
	return rctx
}

// Stats returns orchestration counters.
func (o *Orchestrator) Stats() map[string]interface{} {
	return map[string]interface{}{
		"threat_types": len(o.Table().Threats()),
		"orchestrated": atomic.LoadUint64(&o.orchestrated),
		"submissions":  atomic.LoadUint64(&o.submissions),
		"rejections":   atomic.LoadUint64(&o.rejections),
		"reloads":      atomic.LoadUint64(&o.reloads),
	}
}

func unionAppend(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}
