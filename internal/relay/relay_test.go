package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/admission"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/dispatch"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/provider"
)

type fakeGate struct{ err error }

func (g fakeGate) Check() error { return g.err }

type countingDispatcher struct{ calls int }

func (d *countingDispatcher) Dispatch(_ context.Context, _ provider.Request) (*dispatch.Result, error) {
	d.calls++
	return &dispatch.Result{Response: &provider.Response{Content: "ok"}}, nil
}

func newAdmission(limit int) *admission.Manager {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	settingsFn := func() admission.Settings {
		return admission.Settings{Limits: admission.Limits{RequestLimit: limit, Window: time.Hour, Cooldown: time.Hour}}
	}
	return admission.NewManager(settingsFn, func() time.Time { return now }, nil)
}

var req = provider.Request{Prompt: "hi"}

func TestComplete_FreeTierAdmission(t *testing.T) {
	disp := &countingDispatcher{}
	svc := NewService(newAdmission(1), fakeGate{}, disp)
	ctx := context.Background()

	out, err := svc.Complete(ctx, "10.0.0.1", ModeFree, req)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if out.Admission == nil || out.Admission.Remaining != 0 {
		t.Fatalf("expected admission state, got %+v", out.Admission)
	}

	_, err = svc.Complete(ctx, "10.0.0.1", ModeFree, req)
	var cooldown *errs.CooldownActiveError
	if !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownActiveError, got %v", err)
	}
	if disp.calls != 1 {
		t.Fatalf("denied request must not reach the dispatcher, calls=%d", disp.calls)
	}
}

func TestComplete_PremiumSkipsAdmission(t *testing.T) {
	disp := &countingDispatcher{}
	svc := NewService(newAdmission(1), fakeGate{}, disp)
	for i := 0; i < 3; i++ {
		out, err := svc.Complete(context.Background(), "vip", ModePremium, req)
		if err != nil {
			t.Fatalf("premium request %d: %v", i, err)
		}
		if out.Admission != nil {
			t.Fatalf("premium requests carry no admission state")
		}
	}
}

func TestComplete_PremiumBlockedByMaintenance(t *testing.T) {
	disp := &countingDispatcher{}
	gateErr := &errs.MaintenanceActiveError{Remaining: time.Minute}
	svc := NewService(newAdmission(1), fakeGate{err: gateErr}, disp)

	_, err := svc.Complete(context.Background(), "vip", ModePremium, req)
	if !errors.Is(err, gateErr) {
		t.Fatalf("expected maintenance error, got %v", err)
	}
	if _, err := svc.Complete(context.Background(), "free-user", ModeFree, req); err != nil {
		t.Fatalf("free tier must ignore maintenance: %v", err)
	}
	if disp.calls != 1 {
		t.Fatalf("expected only the free call dispatched, calls=%d", disp.calls)
	}
}

func TestComplete_Validation(t *testing.T) {
	svc := NewService(newAdmission(1), fakeGate{}, &countingDispatcher{})
	var validationErr *errs.ValidationError
	if _, err := svc.Complete(context.Background(), "", ModeFree, req); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for blank caller, got %v", err)
	}
	if _, err := svc.Complete(context.Background(), "x", ModeFree, provider.Request{}); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for empty prompt, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeFree, "FREE": ModeFree, " premium ": ModePremium}
	for raw, want := range cases {
		got, err := ParseMode(raw)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseMode("gold"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
