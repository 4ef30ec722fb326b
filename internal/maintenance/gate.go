// Package maintenance gates premium access during scheduled maintenance windows.
package maintenance

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	log "github.com/sirupsen/logrus"
)

// ConfigSource reads and updates the router configuration.
type ConfigSource interface {
	Get() fallback.Config
	Update(ctx context.Context, p fallback.Patch) (fallback.Config, error)
}

// Status is the public view of the maintenance window.
type Status struct {
	Active           bool   `json:"active"`
	Message          string `json:"message,omitempty"`
	SecondsRemaining int64  `json:"seconds_remaining"`
	ShowCountdown    bool   `json:"show_countdown"`
}

// Gate answers availability questions from the current config snapshot.
type Gate struct {
	source ConfigSource
	nowFn  func() time.Time
}

// NewGate constructs a Gate.
func NewGate(source ConfigSource, nowFn func() time.Time) *Gate {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Gate{source: source, nowFn: nowFn}
}

// remaining reports the effective window; an expired window counts as inactive.
func (g *Gate) remaining() (fallback.MaintenanceWindow, time.Duration, bool) {
	mw := g.source.Get().Maintenance
	if !mw.Active {
		return mw, 0, false
	}
	left := mw.EndsAt.Sub(g.nowFn())
	if left <= 0 {
		return mw, 0, false
	}
	return mw, left, true
}

// IsAvailable reports whether premium access is open.
func (g *Gate) IsAvailable() bool {
	_, _, active := g.remaining()
	return !active
}

// Status returns the effective maintenance state.
func (g *Gate) Status() Status {
	mw, left, active := g.remaining()
	if !active {
		return Status{}
	}
	return Status{
		Active:           true,
		Message:          mw.Message,
		SecondsRemaining: int64(math.Ceil(left.Seconds())),
		ShowCountdown:    mw.ShowCountdown,
	}
}

// Check returns a MaintenanceActiveError while premium access is closed.
func (g *Gate) Check() error {
	mw, left, active := g.remaining()
	if !active {
		return nil
	}
	return &errs.MaintenanceActiveError{Remaining: left, Message: mw.Message}
}

// Start opens a maintenance window lasting d.
func (g *Gate) Start(ctx context.Context, message string, d time.Duration, showCountdown bool) (Status, error) {
	if d <= 0 {
		return Status{}, errs.Validation("duration", "must be positive")
	}
	mw := fallback.MaintenanceWindow{
		Active:        true,
		Message:       strings.TrimSpace(message),
		EndsAt:        g.nowFn().Add(d),
		ShowCountdown: showCountdown,
	}
	if _, errUpdate := g.source.Update(ctx, fallback.Patch{Maintenance: &mw}); errUpdate != nil {
		return Status{}, errUpdate
	}
	log.WithFields(log.Fields{"ends_at": mw.EndsAt, "duration": d}).Info("maintenance: window started")
	return g.Status(), nil
}

// Stop closes the maintenance window immediately.
func (g *Gate) Stop(ctx context.Context) error {
	mw := g.source.Get().Maintenance
	mw.Active = false
	if _, errUpdate := g.source.Update(ctx, fallback.Patch{Maintenance: &mw}); errUpdate != nil {
		return errUpdate
	}
	log.Info("maintenance: window stopped")
	return nil
}
