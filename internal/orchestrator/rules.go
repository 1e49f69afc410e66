// Package orchestrator maps classified alerts to ordered remediation plans
// and submits them to the response service. The rule table is immutable at
// request time; reloads swap the whole table atomically.
package orchestrator

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// severityOrder lists severities highest first; fallback lookups walk down
// this list.
var severityOrder = []string{"critical", "high", "medium", "low"}

// severityRank returns the index of a severity in severityOrder, or the
// lowest rank for unrecognized values.
func severityRank(severity string) int {
	for i, s := range severityOrder {
		if s == severity {
			return i
		}
	}
	return len(severityOrder) - 1
}

// RuleTable maps threat_type -> severity -> ordered action names. Tables are
// never mutated after construction; hot reload builds a new table and swaps
// the pointer.
type RuleTable struct {
	rules map[string]map[string][]string
}

// DefaultRuleTable returns the built-in threat response rules.
func DefaultRuleTable() *RuleTable {
	return &RuleTable{rules: map[string]map[string][]string{
		"malware": {
			"critical": {"isolate_asset", "block_source", "scan_asset"},
			"high":     {"block_source", "scan_asset"},
			"medium":   {"scan_asset"},
			"low":      {"monitor_asset"},
		},
		"phishing": {
			"critical": {"block_source", "alert_users", "scan_emails"},
			"high":     {"block_source", "alert_users"},
			"medium":   {"alert_users"},
			"low":      {"monitor_emails"},
		},
		"brute_force": {
			"critical": {"block_source", "reset_credentials", "enable_mfa"},
			"high":     {"block_source", "reset_credentials"},
			"medium":   {"block_source"},
			"low":      {"monitor_attempts"},
		},
		"data_exfiltration": {
			"critical": {"isolate_asset", "block_destination", "freeze_accounts"},
			"high":     {"block_destination", "freeze_accounts"},
			"medium":   {"block_destination"},
			"low":      {"monitor_traffic"},
		},
		"unauthorized_access": {
			"critical": {"isolate_asset", "block_source", "reset_credentials"},
			"high":     {"block_source", "reset_credentials"},
			"medium":   {"block_source"},
			"low":      {"monitor_access"},
		},
		"suspicious_activity": {
			"critical": {"monitor_asset", "alert_security"},
			"high":     {"monitor_asset"},
			"medium":   {"monitor_asset"},
			"low":      {"log_activity"},
		},
	}}
}

// NewRuleTable validates and wraps a rule map.
func NewRuleTable(rules map[string]map[string][]string) (*RuleTable, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("rule table has no threat types")
	}
	for threat, bySeverity := range rules {
		if threat == "" {
			return nil, fmt.Errorf("rule table has an empty threat type key")
		}
		if len(bySeverity) == 0 {
			return nil, fmt.Errorf("threat %q has no severity entries", threat)
		}
		for severity, actions := range bySeverity {
			if !validSeverity(severity) {
				return nil, fmt.Errorf("threat %q: unknown severity %q", threat, severity)
			}
			if len(actions) == 0 {
				return nil, fmt.Errorf("threat %q severity %q has an empty action list", threat, severity)
			}
			for _, a := range actions {
				if a == "" {
					return nil, fmt.Errorf("threat %q severity %q has an empty action name", threat, severity)
				}
			}
		}
	}
	return &RuleTable{rules: rules}, nil
}

func validSeverity(s string) bool {
	for _, known := range severityOrder {
		if s == known {
			return true
		}
	}
	return false
}

// ruleFile is the on-disk YAML shape.
type ruleFile struct {
	Rules map[string]map[string][]string `yaml:"rules"`
}

// LoadRuleTable reads and validates a YAML rule file.
func LoadRuleTable(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}

	table, err := NewRuleTable(file.Rules)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	return table, nil
}

// ActionsFor returns a copy of the action list for a threat and severity.
// When the exact severity is undefined, the next lower defined severity is
// used so coverage degrades monotonically instead of erroring. The second
// return is false only when the threat type itself is unmapped or no
// severity at or below the requested one is defined.
func (t *RuleTable) ActionsFor(threat, severity string) ([]string, bool) {
	bySeverity, ok := t.rules[threat]
	if !ok {
		return nil, false
	}

	for i := severityRank(severity); i < len(severityOrder); i++ {
		if actions, ok := bySeverity[severityOrder[i]]; ok && len(actions) > 0 {
			out := make([]string, len(actions))
			copy(out, actions)
			return out, true
		}
	}
	return nil, false
}

// Threats returns the mapped threat types in sorted order.
func (t *RuleTable) Threats() []string {
	out := make([]string, 0, len(t.rules))
	for threat := range t.rules {
		out = append(out, threat)
	}
	sort.Strings(out)
	return out
}

// Severities returns the defined severities for a threat type, highest first.
func (t *RuleTable) Severities(threat string) []string {
	bySeverity, ok := t.rules[threat]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(bySeverity))
	for _, s := range severityOrder {
		if _, ok := bySeverity[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
