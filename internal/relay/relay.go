// Package relay is the request pipeline in front of the dispatcher: free-tier
// callers pass admission, premium callers pass the maintenance gate.
package relay

import (
	"context"
	"strings"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/admission"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/dispatch"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/provider"
	log "github.com/sirupsen/logrus"
)

// Mode selects the access tier.
type Mode string

const (
	ModeFree    Mode = "free"
	ModePremium Mode = "premium"
)

// ParseMode maps a raw tier name; blank means free.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeFree:
		return ModeFree, nil
	case ModePremium:
		return ModePremium, nil
	default:
		return "", errs.Validation("mode", "must be %q or %q", ModeFree, ModePremium)
	}
}

// Admitter enforces the free-tier quota.
type Admitter interface {
	CheckAndConsume(ctx context.Context, callerKey string) (admission.Result, error)
}

// Gate reports premium availability.
type Gate interface {
	Check() error
}

// Dispatcher runs the failover cascade.
type Dispatcher interface {
	Dispatch(ctx context.Context, req provider.Request) (*dispatch.Result, error)
}

// Outcome is a served completion plus the admission state that let it through.
type Outcome struct {
	Result    *dispatch.Result
	Admission *admission.Result // nil for premium callers.
}

// Service wires admission, maintenance and dispatch together.
type Service struct {
	admitter   Admitter
	gate       Gate
	dispatcher Dispatcher
}

// NewService constructs a Service.
func NewService(admitter Admitter, gate Gate, dispatcher Dispatcher) *Service {
	return &Service{admitter: admitter, gate: gate, dispatcher: dispatcher}
}

// Complete serves one completion for callerID. Admission and maintenance
// denials return before any provider call.
func (s *Service) Complete(ctx context.Context, callerID string, mode Mode, req provider.Request) (*Outcome, error) {
	if req.Empty() {
		return nil, errs.Validation("prompt", "must not be empty")
	}
	out := &Outcome{}
	switch mode {
	case ModePremium:
		if s.gate != nil {
			if errGate := s.gate.Check(); errGate != nil {
				return nil, errGate
			}
		}
	case ModeFree, "":
		key := admission.KeyForCaller(callerID)
		if key == "" {
			return nil, errs.Validation("caller", "must not be empty")
		}
		result, errAdmit := s.admitter.CheckAndConsume(ctx, key)
		if errAdmit != nil {
			return nil, errAdmit
		}
		if errDenied := result.Err(); errDenied != nil {
			log.WithFields(log.Fields{"caller": key, "retry_after": result.RetryAfter}).Info("relay: admission denied")
			return nil, errDenied
		}
		out.Admission = &result
	default:
		return nil, errs.Validation("mode", "unknown mode %q", mode)
	}

	result, errDispatch := s.dispatcher.Dispatch(ctx, req)
	if errDispatch != nil {
		return nil, errDispatch
	}
	out.Result = result
	return out, nil
}
