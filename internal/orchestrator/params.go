package orchestrator

import (
	"fmt"
	"time"

	"github.com/srihari-976/W.A.R.N/internal/assets"
)

// AlertMeta carries the alert fields used for parameter derivation.
type AlertMeta struct {
	ID          string
	Description string
	Timestamp   time.Time
}

// PlannedAction is one entry of a remediation plan: an action name with its
// derived parameters, in submission order.
type PlannedAction struct {
	Name   string
	Params map[string]any
}

// deriveParams builds the parameter map for one action from the fixed
// per-action table. Identical inputs always produce identical parameters;
// nothing here consults the clock or any other ambient state.
func deriveParams(action string, alert AlertMeta, asset *assets.Asset) map[string]any {
	params := map[string]any{
		"alert_id": alert.ID,
	}
	if !alert.Timestamp.IsZero() {
		params["timestamp"] = alert.Timestamp.UTC().Format(time.RFC3339)
	}

	if asset != nil {
		params["asset_id"] = asset.ID
		params["asset_name"] = asset.Name
		params["asset_type"] = asset.Type
		params["asset_ip"] = asset.IP
	}

	reason := fmt.Sprintf("Alert %s: %s", alert.ID, alert.Description)

	switch action {
	case "isolate_asset":
		params["isolation_duration"] = 3600
		params["isolation_reason"] = reason
	case "block_source":
		params["block_duration"] = 86400
		params["block_reason"] = reason
	case "scan_asset":
		params["scan_type"] = "full"
		params["scan_depth"] = "deep"
	case "alert_users":
		params["alert_priority"] = "high"
		params["alert_message"] = fmt.Sprintf("Security Alert: %s", alert.Description)
	case "reset_credentials":
		params["reset_type"] = "force"
		params["require_mfa"] = true
	case "freeze_accounts":
		params["freeze_duration"] = 3600
		params["freeze_reason"] = reason
	case "notify_security":
		params["notification_priority"] = "high"
		params["notification_channels"] = []string{"email", "slack"}
	}

	return params
}
