// Package errors provides outbound error sanitization for the response engine.
// Handler failures are recorded verbatim on the response instance for operators;
// copies that leave the process (lifecycle events, notifications) go through
// this package first.
package errors

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Pattern to match file paths (Linux and Windows)
	filePathPattern = regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+)|([A-Z]:\\[a-zA-Z0-9_\-\\ ./]+)`)

	// Pattern to match IP addresses
	ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	// Pattern to match connection/credential details effectors tend to echo
	internalErrorPattern = regexp.MustCompile(`(?i)(sql:|database:|connection string|password=|secret=|token=|api[_-]?key=|sasl|x509:)`)
)

// ProductionMode determines whether outbound errors are sanitized.
// Set from config during daemon initialization.
var ProductionMode = false

// SetProductionMode sets the production mode flag. Call once at startup.
func SetProductionMode(production bool) {
	ProductionMode = production
}

// IsProduction returns true if running in production mode.
func IsProduction() bool {
	return ProductionMode
}

// SanitizeError strips sensitive details from an error before it leaves the
// process. In development mode the original error passes through for debugging.
func SanitizeError(err error) error {
	if err == nil {
		return nil
	}

	if !ProductionMode {
		return err
	}

	return errors.New(SanitizeString(err.Error()))
}

// SanitizeString strips sensitive details from a string.
func SanitizeString(s string) string {
	if !ProductionMode {
		return s
	}

	// Keep only the filename of any absolute path
	s = filePathPattern.ReplaceAllStringFunc(s, func(match string) string {
		return filepath.Base(match)
	})

	// Mask IP addresses, keeping the first two octets for context. Effector
	// errors routinely echo the target host ("dial tcp 10.1.2.3:22").
	s = ipPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := strings.Split(match, ".")
		if len(parts) == 4 {
			return fmt.Sprintf("%s.%s.x.x", parts[0], parts[1])
		}
		return "x.x.x.x"
	})

	// Collapse anything that looks like connection or credential detail
	if internalErrorPattern.MatchString(s) {
		s = "effector call failed"
	}

	// Collapse stack traces
	if strings.Contains(s, "goroutine") || strings.Count(s, "\n") > 3 {
		s = "internal error - action failed"
	}

	return s
}

// WrapSanitized wraps an error with context and sanitizes the result.
func WrapSanitized(err error, message string) error {
	if err == nil {
		return nil
	}

	return SanitizeError(fmt.Errorf("%s: %w", message, err))
}

// NewSanitized creates a sanitized error with the given message.
func NewSanitized(format string, args ...interface{}) error {
	return SanitizeError(fmt.Errorf(format, args...))
}

// OutboundErrorMessage returns the error text safe to attach to a published
// lifecycle event or notification. Engine-level outcomes pass through so
// downstream consumers can still distinguish them; effector detail is
// sanitized.
func OutboundErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return OutboundText(err.Error())
}

// OutboundText is OutboundErrorMessage for error text already flattened to a
// string, as stored on response instances.
func OutboundText(msg string) string {
	if msg == "" {
		return ""
	}

	// Engine outcomes with no internal detail pass through verbatim.
	passThrough := []string{
		"timeout",
		"cancelled",
		"unknown action",
		"unknown workflow",
		"missing required parameters",
		"queue full",
		"queue closed",
		"not found",
	}

	lowerMsg := strings.ToLower(msg)
	for _, safe := range passThrough {
		if strings.Contains(lowerMsg, safe) {
			return msg
		}
	}

	return SanitizeString(msg)
}
