// Package provider defines the completion contract consumed by the dispatcher
// and ships an OpenAI-compatible HTTP implementation of it.
package provider

import (
	"context"
	"strings"
	"time"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request addressed to one model.
type Request struct {
	Model       string    `json:"model"`
	Prompt      string    `json:"prompt,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Usage reports provider token accounting when available.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Response is a completion result.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Client issues completion requests with an explicit credential.
type Client interface {
	Complete(ctx context.Context, apiKey string, req Request) (*Response, error)
}

// ClientFunc adapts a function into a Client.
type ClientFunc func(ctx context.Context, apiKey string, req Request) (*Response, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, apiKey string, req Request) (*Response, error) {
	return f(ctx, apiKey, req)
}

// ChatMessages returns the request as chat messages, turning a bare prompt into a user turn.
func (r Request) ChatMessages() []Message {
	out := make([]Message, 0, len(r.Messages)+1)
	for _, m := range r.Messages {
		role := strings.TrimSpace(m.Role)
		if role == "" {
			role = "user"
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	if prompt := strings.TrimSpace(r.Prompt); prompt != "" {
		out = append(out, Message{Role: "user", Content: r.Prompt})
	}
	return out
}

// Empty reports whether the request carries no prompt content.
func (r Request) Empty() bool {
	for _, m := range r.Messages {
		if strings.TrimSpace(m.Content) != "" {
			return false
		}
	}
	return strings.TrimSpace(r.Prompt) == ""
}

// ProbeResult captures the outcome of a reachability probe.
type ProbeResult struct {
	Model     string        `json:"model"`
	Latency   time.Duration `json:"-"`
	LatencyMs int64         `json:"latency_ms"`
	Sample    string        `json:"sample"`
}

const probePrompt = "Reply with the single word: pong"

// Probe issues a minimal completion to check that apiKey can reach model.
func Probe(ctx context.Context, client Client, apiKey, model string, timeout time.Duration) (ProbeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Complete(probeCtx, apiKey, Request{
		Model:     model,
		Messages:  []Message{{Role: "user", Content: probePrompt}},
		MaxTokens: 8,
	})
	latency := time.Since(start)
	if err != nil {
		return ProbeResult{Model: model, Latency: latency, LatencyMs: latency.Milliseconds()}, err
	}
	return ProbeResult{
		Model:     model,
		Latency:   latency,
		LatencyMs: latency.Milliseconds(),
		Sample:    truncate(resp.Content, 200),
	}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
