package front

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/admission"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/dispatch"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/maintenance"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/provider"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/relay"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/usage"
)

type stubDispatcher struct {
	err   error
	calls int
}

func (d *stubDispatcher) Dispatch(_ context.Context, req provider.Request) (*dispatch.Result, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return &dispatch.Result{
		RequestID: "req-1",
		Response:  &provider.Response{Content: "answer", Usage: &provider.Usage{TotalTokens: 7}},
		Candidate: "fallback#1:m-a",
		Kind:      usage.KindFallback,
		Model:     "m-a",
		Attempts:  3,
		Notice:    "served by a fallback model",
	}, nil
}

func newRouter(t *testing.T, disp *stubDispatcher, limit int) (*gin.Engine, *maintenance.Gate) {
	return newRouterWithTrust(t, disp, limit, true)
}

func newRouterWithTrust(t *testing.T, disp *stubDispatcher, limit int, trustCallerHeader bool) (*gin.Engine, *maintenance.Gate) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	manager := admission.NewManager(func() admission.Settings {
		return admission.Settings{Limits: admission.Limits{RequestLimit: limit, Window: time.Hour, Cooldown: time.Hour}}
	}, nil, nil)
	t.Cleanup(func() { _ = manager.Close() })
	gate := maintenance.NewGate(fallback.NewStore(nil, nil, nil), nil)

	r := gin.New()
	RegisterFrontRoutes(r, relay.NewService(manager, gate, disp), gate, trustCallerHeader)
	return r, gate
}

func post(r *gin.Engine, caller string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/completions", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Caller-ID", caller)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCompletions_Success(t *testing.T) {
	r, _ := newRouter(t, &stubDispatcher{}, 5)
	w := post(r, "alice", gin.H{"prompt": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		ID           string `json:"id"`
		Content      string `json:"content"`
		UsedFallback bool   `json:"used_fallback"`
		Notice       string `json:"notice"`
		Attempts     int    `json:"attempts"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if resp.Content != "answer" || !resp.UsedFallback || resp.Notice == "" || resp.Attempts != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("expected remaining=4, got %q", got)
	}
}

func TestCompletions_CooldownReturns429(t *testing.T) {
	disp := &stubDispatcher{}
	r, _ := newRouter(t, disp, 1)
	if w := post(r, "bob", gin.H{"prompt": "one"}); w.Code != http.StatusOK {
		t.Fatalf("first request status=%d", w.Code)
	}
	w := post(r, "bob", gin.H{"prompt": "two"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if disp.calls != 1 {
		t.Fatalf("denied request reached the dispatcher")
	}
	if w := post(r, "carol", gin.H{"prompt": "one"}); w.Code != http.StatusOK {
		t.Fatalf("other callers are unaffected, got %d", w.Code)
	}
}

func TestCompletions_UntrustedCallerHeaderIgnored(t *testing.T) {
	disp := &stubDispatcher{}
	r, _ := newRouterWithTrust(t, disp, 1, false)
	if w := post(r, "dave", gin.H{"prompt": "one"}); w.Code != http.StatusOK {
		t.Fatalf("first request status=%d", w.Code)
	}
	if w := post(r, "erin", gin.H{"prompt": "two"}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected a new header value to share the client IP quota, got %d", w.Code)
	}
	if disp.calls != 1 {
		t.Fatalf("denied request reached the dispatcher")
	}
}

func TestCompletions_PremiumDuringMaintenance(t *testing.T) {
	disp := &stubDispatcher{}
	r, gate := newRouter(t, disp, 5)
	if _, err := gate.Start(context.Background(), "upgrading", 10*time.Minute, true); err != nil {
		t.Fatalf("start maintenance: %v", err)
	}
	w := post(r, "vip", gin.H{"prompt": "hi", "mode": "premium"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%s", w.Code, w.Body.String())
	}
	if disp.calls != 0 {
		t.Fatalf("maintenance must block before dispatch")
	}

	req := httptest.NewRequest(http.MethodGet, "/v0/maintenance/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var status maintenance.Status
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if !status.Active || status.Message != "upgrading" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestCompletions_BadInput(t *testing.T) {
	r, _ := newRouter(t, &stubDispatcher{}, 5)
	if w := post(r, "alice", gin.H{"prompt": "hi", "mode": "gold"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", w.Code)
	}
	if w := post(r, "alice", gin.H{"prompt": "  "}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty prompt, got %d", w.Code)
	}
}

func TestCompletions_ExhaustedReturns502(t *testing.T) {
	r, _ := newRouter(t, &stubDispatcher{err: &errs.FailoverExhaustedError{Attempts: 4}}, 5)
	if w := post(r, "alice", gin.H{"prompt": "hi"}); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}
