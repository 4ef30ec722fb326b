package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
)

func TestHTTPClientComplete_Success(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"m-1","choices":[{"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, server.Client())
	resp, err := client.Complete(context.Background(), "sk-test", Request{Model: "m-1", Prompt: "hi", MaxTokens: 16})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("expected content=hello, got %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Fatalf("expected total tokens=5, got %+v", resp.Usage)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if len(gotBody.Messages) != 1 || gotBody.Messages[0].Role != "user" || gotBody.MaxTokens != 16 {
		t.Fatalf("unexpected wire body: %+v", gotBody)
	}
}

func TestHTTPClientComplete_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, server.Client())
	_, err := client.Complete(context.Background(), "sk-test", Request{Model: "m-1", Prompt: "hi"})
	var providerErr *errs.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if providerErr.StatusCode != http.StatusUnauthorized || providerErr.Message != "bad key" {
		t.Fatalf("unexpected provider error: %+v", providerErr)
	}
}

func TestHTTPClientComplete_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, server.Client())
	_, err := client.Complete(context.Background(), "sk-test", Request{Model: "m-1", Prompt: "hi"})
	var providerErr *errs.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError for blank content, got %v", err)
	}
}

func TestHTTPClientComplete_Malformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, server.Client())
	if _, err := client.Complete(context.Background(), "sk-test", Request{Model: "m-1", Prompt: "hi"}); err == nil {
		t.Fatalf("expected error for malformed body")
	}
}

func TestHTTPClientComplete_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, server.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, "sk-test", Request{Model: "m-1", Prompt: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestProbe(t *testing.T) {
	client := ClientFunc(func(ctx context.Context, apiKey string, req Request) (*Response, error) {
		if req.Model != "probe-model" || apiKey != "sk-probe" {
			t.Errorf("unexpected probe request: key=%q model=%q", apiKey, req.Model)
		}
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("expected probe deadline")
		}
		return &Response{Content: "pong"}, nil
	})

	result, err := Probe(context.Background(), client, "sk-probe", "probe-model", time.Second)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Sample != "pong" || result.Model != "probe-model" {
		t.Fatalf("unexpected probe result: %+v", result)
	}
}

func TestRequestChatMessages(t *testing.T) {
	req := Request{Messages: []Message{{Content: "a"}}, Prompt: "b"}
	msgs := req.ChatMessages()
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Content != "b" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if req.Empty() {
		t.Fatalf("expected non-empty request")
	}
	if !(Request{Prompt: "  "}).Empty() {
		t.Fatalf("expected blank prompt to be empty")
	}
}

func TestHTTPClientComplete_OversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + strings.Repeat("x", 256) + `"}}]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, server.Client())
	client.maxBody = 64
	_, err := client.Complete(context.Background(), "sk-test", Request{Model: "m-1", Prompt: "hi"})
	var providerErr *errs.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError for oversized body, got %v", err)
	}
	if providerErr.Message != "response body too large" {
		t.Fatalf("unexpected message %q", providerErr.Message)
	}
}
