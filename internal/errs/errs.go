// Package errs defines the error kinds surfaced by the failover router.
package errs

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports a configuration field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError for field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a duplicate priority or model id.
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s %q already in use", e.Field, e.Value)
}

// NotFoundError reports an unknown model or caller.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// CooldownActiveError denies admission until RetryAfter has elapsed.
type CooldownActiveError struct {
	RetryAfter time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("cooldown active, retry after %s", e.RetryAfter.Round(time.Second))
}

// MaintenanceActiveError denies premium access while maintenance is running.
type MaintenanceActiveError struct {
	Remaining time.Duration
	Message   string
}

func (e *MaintenanceActiveError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "maintenance in progress"
	}
	return fmt.Sprintf("%s (%s remaining)", msg, e.Remaining.Round(time.Second))
}

// ProviderTimeoutError reports an attempt that did not finish within its timeout.
type ProviderTimeoutError struct {
	Candidate string
	Timeout   time.Duration
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out after %s", e.Candidate, e.Timeout)
}

// ProviderError reports a non-success status or malformed payload.
type ProviderError struct {
	Candidate  string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Candidate, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Candidate, e.Message)
}

// FailoverExhaustedError is returned once every candidate in the cascade failed
// or the caller's deadline stopped the cascade early.
type FailoverExhaustedError struct {
	Attempts int
	Canceled bool
	Err      error
}

func (e *FailoverExhaustedError) Error() string {
	if e.Canceled {
		return fmt.Sprintf("failover canceled after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("failover exhausted after %d attempts", e.Attempts)
}

func (e *FailoverExhaustedError) Unwrap() error { return e.Err }

// TestError wraps a failed credential or model probe.
type TestError struct {
	Target string
	Err    error
}

func (e *TestError) Error() string {
	return fmt.Sprintf("test %s failed: %v", e.Target, e.Err)
}

func (e *TestError) Unwrap() error { return e.Err }
