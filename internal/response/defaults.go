package response

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AgentDispatcher delivers containment commands to the agent running on an
// asset. Implemented by the dispatch package; nil means local-only execution.
type AgentDispatcher interface {
	SendCommand(ctx context.Context, assetID, command string, params map[string]any) error
}

// SecurityNotifier delivers human-facing notifications. Implemented by the
// notify package; nil means notifications are logged and simulated.
type SecurityNotifier interface {
	NotifySecurity(ctx context.Context, subject, message string, meta map[string]any) error
}

// Effectors carries the optional outbound integrations used by the built-in
// actions. Zero value is valid: every action then completes locally with a
// simulated result.
type Effectors struct {
	Dispatcher AgentDispatcher
	Notifier   SecurityNotifier
}

// RegisterDefaults installs the built-in action set into the registry and
// returns how many actions were accepted.
func RegisterDefaults(reg *Registry, eff Effectors, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	b := &builtinActions{eff: eff, logger: logger.With("component", "builtin_actions")}

	defs := []Definition{
		{
			Name:           "block_ip",
			Description:    "Block an IP address at the perimeter firewall",
			Priority:       PriorityHigh,
			RequiredParams: []string{"ip_address", "duration"},
			Timeout:        60 * time.Second,
			Handler:        HandlerFunc{ActionName: "block_ip", Fn: b.blockIP},
		},
		{
			Name:           "isolate_asset",
			Description:    "Isolate an asset from the network",
			Priority:       PriorityCritical,
			RequiredParams: []string{"asset_id"},
			Timeout:        120 * time.Second,
			Handler:        HandlerFunc{ActionName: "isolate_asset", Fn: b.isolateAsset},
		},
		{
			Name:           "disable_user",
			Description:    "Disable a user account",
			Priority:       PriorityHigh,
			RequiredParams: []string{"user_id"},
			Timeout:        30 * time.Second,
			Handler:        HandlerFunc{ActionName: "disable_user", Fn: b.disableUser},
		},
		{
			Name:           "update_firewall_rules",
			Description:    "Push a firewall rule set",
			Priority:       PriorityMedium,
			RequiredParams: []string{"rules"},
			Timeout:        180 * time.Second,
			Handler:        HandlerFunc{ActionName: "update_firewall_rules", Fn: b.updateFirewallRules},
		},
		{
			Name:           "scan_asset",
			Description:    "Start a security scan on an asset",
			Priority:       PriorityMedium,
			RequiredParams: []string{"asset_id", "scan_type"},
			Timeout:        600 * time.Second,
			Handler:        HandlerFunc{ActionName: "scan_asset", Fn: b.scanAsset},
		},
		{
			Name:           "block_source",
			Description:    "Block the source of an alert at the perimeter",
			Priority:       PriorityHigh,
			RequiredParams: []string{"block_reason"},
			Timeout:        60 * time.Second,
			Handler:        HandlerFunc{ActionName: "block_source", Fn: b.blockSource},
		},
		{
			Name:        "block_destination",
			Description: "Block an exfiltration destination at the perimeter",
			Priority:    PriorityHigh,
			Timeout:     60 * time.Second,
			Handler:     HandlerFunc{ActionName: "block_destination", Fn: b.blockDestination},
		},
		{
			Name:        "reset_credentials",
			Description: "Force a credential reset for affected accounts",
			Priority:    PriorityHigh,
			Timeout:     120 * time.Second,
			Handler:     HandlerFunc{ActionName: "reset_credentials", Fn: b.resetCredentials},
		},
		{
			Name:        "enable_mfa",
			Description: "Require multi-factor authentication for affected accounts",
			Priority:    PriorityMedium,
			Timeout:     60 * time.Second,
			Handler:     HandlerFunc{ActionName: "enable_mfa", Fn: b.enableMFA},
		},
		{
			Name:           "freeze_accounts",
			Description:    "Freeze accounts involved in suspected exfiltration",
			Priority:       PriorityHigh,
			RequiredParams: []string{"freeze_reason"},
			Timeout:        120 * time.Second,
			Handler:        HandlerFunc{ActionName: "freeze_accounts", Fn: b.freezeAccounts},
		},
		{
			Name:           "alert_users",
			Description:    "Warn affected users about an active threat",
			Priority:       PriorityHigh,
			RequiredParams: []string{"alert_message"},
			Timeout:        30 * time.Second,
			Handler:        HandlerFunc{ActionName: "alert_users", Fn: b.alertUsers},
		},
		{
			Name:        "scan_emails",
			Description: "Scan mailboxes for related phishing messages",
			Priority:    PriorityMedium,
			Timeout:     600 * time.Second,
			Handler:     HandlerFunc{ActionName: "scan_emails", Fn: b.scanEmails},
		},
		{
			Name:        "notify_security",
			Description: "Notify the security team about an automated response",
			Priority:    PriorityHigh,
			Timeout:     30 * time.Second,
			Handler:     HandlerFunc{ActionName: "notify_security", Fn: b.notifySecurity},
		},
		{
			Name:        "alert_security",
			Description: "Page the security team for manual review",
			Priority:    PriorityHigh,
			Timeout:     30 * time.Second,
			Handler:     HandlerFunc{ActionName: "alert_security", Fn: b.alertSecurity},
		},
		{
			Name:        "monitor_asset",
			Description: "Raise the monitoring level on an asset",
			Priority:    PriorityLow,
			Timeout:     60 * time.Second,
			Handler:     HandlerFunc{ActionName: "monitor_asset", Fn: b.monitorAsset},
		},
		{
			Name:        "monitor_emails",
			Description: "Watch mail flow for follow-up phishing attempts",
			Priority:    PriorityLow,
			Timeout:     60 * time.Second,
			Handler:     HandlerFunc{ActionName: "monitor_emails", Fn: b.monitor("monitor_emails", "mail flow")},
		},
		{
			Name:        "monitor_attempts",
			Description: "Watch authentication attempts from the alert source",
			Priority:    PriorityLow,
			Timeout:     60 * time.Second,
			Handler:     HandlerFunc{ActionName: "monitor_attempts", Fn: b.monitor("monitor_attempts", "authentication attempts")},
		},
		{
			Name:        "monitor_traffic",
			Description: "Watch network traffic related to the alert",
			Priority:    PriorityLow,
			Timeout:     60 * time.Second,
			Handler:     HandlerFunc{ActionName: "monitor_traffic", Fn: b.monitor("monitor_traffic", "network traffic")},
		},
		{
			Name:        "monitor_access",
			Description: "Watch access patterns for the affected resource",
			Priority:    PriorityLow,
			Timeout:     60 * time.Second,
			Handler:     HandlerFunc{ActionName: "monitor_access", Fn: b.monitor("monitor_access", "access patterns")},
		},
		{
			Name:        "log_activity",
			Description: "Record the alert for later review without acting",
			Priority:    PriorityLow,
			Timeout:     30 * time.Second,
			Handler:     HandlerFunc{ActionName: "log_activity", Fn: b.logActivity},
		},
	}

	registered := 0
	for _, def := range defs {
		if reg.Register(def) {
			registered++
		}
	}
	return registered
}

type builtinActions struct {
	eff    Effectors
	logger *slog.Logger
}

func (b *builtinActions) blockIP(ctx context.Context, params, rctx map[string]any) (any, error) {
	ip := stringParam(params, "ip_address")
	duration := intParam(params, "duration", 0)
	return successResult(fmt.Sprintf("Blocked IP %s for %d seconds", ip, duration)), nil
}

func (b *builtinActions) isolateAsset(ctx context.Context, params, rctx map[string]any) (any, error) {
	assetID := stringParam(params, "asset_id")
	if b.eff.Dispatcher != nil {
		if err := b.eff.Dispatcher.SendCommand(ctx, assetID, "isolate", params); err != nil {
			return nil, fmt.Errorf("isolate command for asset %s: %w", assetID, err)
		}
	}
	return successResult(fmt.Sprintf("Isolated asset %s", assetID)), nil
}

func (b *builtinActions) disableUser(ctx context.Context, params, rctx map[string]any) (any, error) {
	userID := stringParam(params, "user_id")
	return successResult(fmt.Sprintf("Disabled user %s", userID)), nil
}

func (b *builtinActions) updateFirewallRules(ctx context.Context, params, rctx map[string]any) (any, error) {
	n := ruleCount(params["rules"])
	return successResult(fmt.Sprintf("Updated %d firewall rules", n)), nil
}

func (b *builtinActions) scanAsset(ctx context.Context, params, rctx map[string]any) (any, error) {
	assetID := stringParam(params, "asset_id")
	scanType := stringParam(params, "scan_type")
	if b.eff.Dispatcher != nil {
		if err := b.eff.Dispatcher.SendCommand(ctx, assetID, "scan", params); err != nil {
			return nil, fmt.Errorf("scan command for asset %s: %w", assetID, err)
		}
	}
	return successResult(fmt.Sprintf("Initiated %s scan on asset %s", scanType, assetID)), nil
}

func (b *builtinActions) blockSource(ctx context.Context, params, rctx map[string]any) (any, error) {
	source := firstString(params, rctx, "source_ip")
	if source == "" {
		source = "alert source"
	}
	duration := intParam(params, "block_duration", 86400)
	return successResult(fmt.Sprintf("Blocked %s for %d seconds", source, duration)), nil
}

func (b *builtinActions) blockDestination(ctx context.Context, params, rctx map[string]any) (any, error) {
	dest := firstString(params, rctx, "destination_ip")
	if dest == "" {
		dest = "exfiltration destination"
	}
	return successResult(fmt.Sprintf("Blocked %s", dest)), nil
}

func (b *builtinActions) resetCredentials(ctx context.Context, params, rctx map[string]any) (any, error) {
	target := firstString(params, rctx, "user_id")
	if target == "" {
		target = "affected accounts"
	}
	return successResult(fmt.Sprintf("Forced credential reset for %s", target)), nil
}

func (b *builtinActions) enableMFA(ctx context.Context, params, rctx map[string]any) (any, error) {
	target := firstString(params, rctx, "user_id")
	if target == "" {
		target = "affected accounts"
	}
	return successResult(fmt.Sprintf("Enabled MFA requirement for %s", target)), nil
}

func (b *builtinActions) freezeAccounts(ctx context.Context, params, rctx map[string]any) (any, error) {
	duration := intParam(params, "freeze_duration", 3600)
	return successResult(fmt.Sprintf("Froze affected accounts for %d seconds", duration)), nil
}

func (b *builtinActions) alertUsers(ctx context.Context, params, rctx map[string]any) (any, error) {
	message := stringParam(params, "alert_message")
	if b.eff.Notifier != nil {
		if err := b.eff.Notifier.NotifySecurity(ctx, "User security alert", message, params); err != nil {
			return nil, fmt.Errorf("alert users: %w", err)
		}
	}
	return successResult("Alerted affected users"), nil
}

func (b *builtinActions) scanEmails(ctx context.Context, params, rctx map[string]any) (any, error) {
	return successResult("Initiated mailbox scan for related messages"), nil
}

func (b *builtinActions) notifySecurity(ctx context.Context, params, rctx map[string]any) (any, error) {
	subject := fmt.Sprintf("Automated response for alert %s", firstString(params, rctx, "alert_id"))
	if b.eff.Notifier != nil {
		if err := b.eff.Notifier.NotifySecurity(ctx, subject, "", params); err != nil {
			return nil, fmt.Errorf("notify security: %w", err)
		}
	}
	return successResult("Notified security team"), nil
}

func (b *builtinActions) alertSecurity(ctx context.Context, params, rctx map[string]any) (any, error) {
	subject := fmt.Sprintf("Manual review requested for alert %s", firstString(params, rctx, "alert_id"))
	if b.eff.Notifier != nil {
		if err := b.eff.Notifier.NotifySecurity(ctx, subject, "", params); err != nil {
			return nil, fmt.Errorf("alert security: %w", err)
		}
	}
	return successResult("Paged security team for review"), nil
}

func (b *builtinActions) monitorAsset(ctx context.Context, params, rctx map[string]any) (any, error) {
	assetID := firstString(params, rctx, "asset_id")
	if assetID != "" && b.eff.Dispatcher != nil {
		if err := b.eff.Dispatcher.SendCommand(ctx, assetID, "monitor", params); err != nil {
			return nil, fmt.Errorf("monitor command for asset %s: %w", assetID, err)
		}
	}
	if assetID == "" {
		assetID = "alert asset"
	}
	return successResult(fmt.Sprintf("Raised monitoring level on %s", assetID)), nil
}

// monitor builds the passive watch handlers that differ only in subject.
func (b *builtinActions) monitor(action, subject string) func(context.Context, map[string]any, map[string]any) (any, error) {
	return func(ctx context.Context, params, rctx map[string]any) (any, error) {
		b.logger.Debug("monitoring enabled", "action", action, "alert_id", firstString(params, rctx, "alert_id"))
		return successResult(fmt.Sprintf("Watching %s for alert %s", subject, firstString(params, rctx, "alert_id"))), nil
	}
}

func (b *builtinActions) logActivity(ctx context.Context, params, rctx map[string]any) (any, error) {
	b.logger.Info("activity recorded",
		"alert_id", firstString(params, rctx, "alert_id"),
		"threat_type", firstString(params, rctx, "threat_type"))
	return successResult("Recorded alert activity"), nil
}

func successResult(message string) map[string]any {
	return map[string]any{
		"status":  "success",
		"message": message,
	}
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// firstString reads a string key from params, falling back to the response
// context.
func firstString(params, rctx map[string]any, key string) string {
	if v := stringParam(params, key); v != "" {
		return v
	}
	return stringParam(rctx, key)
}

// intParam reads a numeric key, tolerating the int and float64 shapes that
// JSON and YAML decoding produce.
func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func ruleCount(v any) int {
	switch rules := v.(type) {
	case []any:
		return len(rules)
	case []map[string]any:
		return len(rules)
	}
	return 0
}
