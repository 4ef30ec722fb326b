package admission

import (
	"context"
	"time"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/settings"
)

// Reason explains a denial.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonCooldownActive Reason = "cooldown_active"
)

// Limits is the free-tier quota applied to every caller.
type Limits struct {
	RequestLimit int
	Window       time.Duration
	Cooldown     time.Duration
}

func (l Limits) normalized() Limits {
	if l.RequestLimit < 1 {
		l.RequestLimit = settings.DefaultRequestLimit
	}
	if l.Window <= 0 {
		l.Window = settings.DefaultWindowHours * time.Hour
	}
	if l.Cooldown <= 0 {
		l.Cooldown = settings.DefaultCooldownHours * time.Hour
	}
	return l
}

// Record is the per-caller admission state.
type Record struct {
	CallerKey     string    `json:"caller_key"`
	RequestCount  int       `json:"request_count"`
	WindowStart   time.Time `json:"window_start"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Result describes the outcome of an admission check.
type Result struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration
	Count      int
	Remaining  int
	Reset      time.Time
}

// Err converts a denial into the error surfaced to callers; nil when allowed.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &errs.CooldownActiveError{RetryAfter: r.RetryAfter}
}

// Backend stores admission records. Consume must run the whole
// read-modify-write step atomically per key.
type Backend interface {
	Consume(ctx context.Context, key string, limits Limits, now time.Time) (Result, error)
	Lookup(ctx context.Context, key string) (Record, bool, error)
}

// step applies one admission check to rec in place.
func step(rec *Record, limits Limits, now time.Time) Result {
	if rec.WindowStart.IsZero() || !now.Before(rec.WindowStart.Add(limits.Window)) {
		rec.RequestCount = 0
		rec.WindowStart = now
	}
	if now.Before(rec.CooldownUntil) {
		return denied(*rec, limits, now)
	}
	rec.RequestCount++
	if rec.RequestCount > limits.RequestLimit {
		until := rec.WindowStart.Add(limits.Cooldown)
		if until.After(rec.CooldownUntil) {
			rec.CooldownUntil = until
		}
		if now.Before(rec.CooldownUntil) {
			return denied(*rec, limits, now)
		}
	}
	return allowed(*rec, limits)
}

func allowed(rec Record, limits Limits) Result {
	remaining := limits.RequestLimit - rec.RequestCount
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   true,
		Count:     rec.RequestCount,
		Remaining: remaining,
		Reset:     rec.WindowStart.Add(limits.Window),
	}
}

func denied(rec Record, limits Limits, now time.Time) Result {
	return Result{
		Allowed:    false,
		Reason:     ReasonCooldownActive,
		RetryAfter: rec.CooldownUntil.Sub(now),
		Count:      rec.RequestCount,
		Remaining:  0,
		Reset:      rec.CooldownUntil,
	}
}
