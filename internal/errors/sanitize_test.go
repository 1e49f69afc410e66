package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeError_ProductionMode(t *testing.T) {
	originalMode := ProductionMode
	ProductionMode = true
	defer func() { ProductionMode = originalMode }()

	tests := []struct {
		name        string
		input       error
		contains    string
		notContains string
	}{
		{
			name:        "file path removal",
			input:       errors.New("failed to read /etc/warn/agent-keys/ops.pem"),
			contains:    "ops.pem",
			notContains: "/etc/warn/agent-keys",
		},
		{
			name:        "IP address masking",
			input:       errors.New("isolate command failed: dial tcp 192.168.1.100:22"),
			contains:    "192.168.x.x",
			notContains: "192.168.1.100",
		},
		{
			name:        "credential detail collapse",
			input:       errors.New("firewall API rejected: connection string contains password=secret123"),
			contains:    "effector call failed",
			notContains: "password=secret123",
		},
		{
			name:     "nil error",
			input:    nil,
			contains: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeError(tt.input)

			if tt.input == nil {
				if result != nil {
					t.Errorf("expected nil, got %v", result)
				}
				return
			}

			resultStr := result.Error()

			if tt.contains != "" && !strings.Contains(resultStr, tt.contains) {
				t.Errorf("expected result to contain %q, got %q", tt.contains, resultStr)
			}

			if tt.notContains != "" && strings.Contains(resultStr, tt.notContains) {
				t.Errorf("expected result to NOT contain %q, but it does: %q", tt.notContains, resultStr)
			}
		})
	}
}

func TestSanitizeError_DevelopmentMode(t *testing.T) {
	originalMode := ProductionMode
	ProductionMode = false
	defer func() { ProductionMode = originalMode }()

	input := errors.New("failed to read /etc/warn/agent-keys/ops.pem")
	result := SanitizeError(input)

	if result.Error() != input.Error() {
		t.Errorf("expected error to be unchanged in development mode, got %q", result.Error())
	}
}

func TestSanitizeString(t *testing.T) {
	originalMode := ProductionMode
	ProductionMode = true
	defer func() { ProductionMode = originalMode }()

	tests := []struct {
		name        string
		input       string
		contains    string
		notContains string
	}{
		{
			name:        "path sanitization",
			input:       "error opening /var/lib/warn/workflows/contain-host.yaml",
			contains:    "contain-host.yaml",
			notContains: "/var/lib/warn/workflows",
		},
		{
			name:        "multiple IPs",
			input:       "block_source failed from 10.0.1.5 to 172.16.20.100",
			contains:    "10.0.x.x",
			notContains: "10.0.1.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeString(tt.input)

			if tt.contains != "" && !strings.Contains(result, tt.contains) {
				t.Errorf("expected result to contain %q, got %q", tt.contains, result)
			}

			if tt.notContains != "" && strings.Contains(result, tt.notContains) {
				t.Errorf("expected result to NOT contain %q, but it does: %q", tt.notContains, result)
			}
		})
	}
}

func TestOutboundErrorMessage(t *testing.T) {
	originalMode := ProductionMode
	ProductionMode = true
	defer func() { ProductionMode = originalMode }()

	tests := []struct {
		name     string
		input    error
		expected string
	}{
		{
			name:     "timeout outcome passes through",
			input:    errors.New("action timeout after 60s"),
			expected: "action timeout after 60s",
		},
		{
			name:     "validation outcome passes through",
			input:    errors.New("missing required parameters: [ip_address]"),
			expected: "missing required parameters",
		},
		{
			name:     "effector detail sanitized",
			input:    errors.New("scanner unreachable at /opt/scanner/bin"),
			expected: "bin",
		},
		{
			name:     "nil error",
			input:    nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := OutboundErrorMessage(tt.input)

			if tt.input == nil {
				if result != "" {
					t.Errorf("expected empty string for nil error, got %q", result)
				}
				return
			}

			if !strings.Contains(result, tt.expected) {
				t.Errorf("expected result to contain %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestWrapSanitized(t *testing.T) {
	originalMode := ProductionMode
	ProductionMode = true
	defer func() { ProductionMode = originalMode }()

	baseErr := errors.New("scan agent unreachable at /opt/warn/agents/scan.sock")
	wrapped := WrapSanitized(baseErr, "scan_asset failed")

	result := wrapped.Error()

	if !strings.Contains(result, "scan_asset failed") {
		t.Errorf("expected wrapped message in result, got %q", result)
	}

	if strings.Contains(result, "/opt/warn/agents") {
		t.Errorf("expected path to be sanitized, got %q", result)
	}
}

func TestSetProductionMode(t *testing.T) {
	originalMode := ProductionMode
	defer func() { ProductionMode = originalMode }()

	SetProductionMode(true)
	if !IsProduction() {
		t.Error("expected production mode to be true")
	}

	SetProductionMode(false)
	if IsProduction() {
		t.Error("expected production mode to be false")
	}
}
