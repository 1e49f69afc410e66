// Package bridge receives alert records from the intake transports,
// validates and scores them, and hands them to the orchestrator.
package bridge

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// threatPattern constrains threat type names: lowercase snake_case, starting
// with a letter. Examples: "malware", "brute_force", "data_exfiltration".
var threatPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// AlertRecord is the wire shape every intake transport decodes into.
type AlertRecord struct {
	ID            string         `json:"id" validate:"omitempty,max=128"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source" validate:"required,max=64"`
	ThreatType    string         `json:"threat_type" validate:"required,threat_format"`
	Severity      string         `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Confidence    string         `json:"confidence" validate:"omitempty,oneof=low medium high"`
	Description   string         `json:"description" validate:"max=1024"`
	AssetID       string         `json:"asset_id" validate:"omitempty,max=128"`
	SourceIP      string         `json:"source_ip" validate:"omitempty,ip"`
	DestinationIP string         `json:"destination_ip" validate:"omitempty,ip"`
	Details       map[string]any `json:"details,omitempty"`
}

// Validator checks alert records before they reach the orchestrator.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds timestamp acceptance bounds.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default acceptance bounds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    7 * 24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a record validator with default bounds.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a record validator with explicit bounds.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("threat_format", func(fl validator.FieldLevel) bool {
		return threatPattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Normalize fills generated fields and canonicalizes enum casing in place.
// Run before Validate.
func Normalize(rec *AlertRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.ThreatType = strings.ToLower(strings.TrimSpace(rec.ThreatType))
	rec.Severity = strings.ToLower(strings.TrimSpace(rec.Severity))
	rec.Confidence = strings.ToLower(strings.TrimSpace(rec.Confidence))
	rec.Source = strings.TrimSpace(rec.Source)
}

// Validate checks a normalized record against the schema and timestamp
// bounds.
func (v *Validator) Validate(rec *AlertRecord) error {
	if err := v.validate.Struct(rec); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	if rec.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v (max age: %v)", rec.Timestamp, v.maxAge)
	}
	if rec.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", rec.Timestamp, v.maxFuture)
	}

	return nil
}
