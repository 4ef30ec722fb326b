package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	// DefaultBaseURL targets the OpenAI-compatible public endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	maxErrorBody = 512
	// maxResponseBody caps how much of one provider response is read.
	maxResponseBody = 8 << 20
)

// HTTPClient speaks the OpenAI-compatible chat completions protocol.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	maxBody int64
}

// NewHTTPClient constructs an HTTPClient; an empty baseURL uses DefaultBaseURL.
// Timeouts are carried by the request context, so the transport has none.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{baseURL: baseURL, client: client, maxBody: maxResponseBody}
}

// chatRequest is the wire payload for /chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Complete implements Client.
func (c *HTTPClient) Complete(ctx context.Context, apiKey string, req Request) (*Response, error) {
	if c == nil {
		return nil, fmt.Errorf("provider: nil client")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	model := strings.TrimSpace(req.Model)
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, &errs.ProviderError{Candidate: model, StatusCode: http.StatusUnauthorized, Message: "missing api key"}
	}

	payload, errMarshal := json.Marshal(chatRequest{
		Model:       model,
		Messages:    req.ChatMessages(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if errMarshal != nil {
		return nil, fmt.Errorf("provider: marshal request: %w", errMarshal)
	}

	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if errReq != nil {
		return nil, fmt.Errorf("provider: build request: %w", errReq)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	start := time.Now()
	resp, errDo := c.client.Do(httpReq)
	if errDo != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("provider: request failed: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("provider: close response body failed")
		}
	}()

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if errRead != nil {
		return nil, fmt.Errorf("provider: read response: %w", errRead)
	}
	if int64(len(body)) > c.maxBody {
		return nil, &errs.ProviderError{Candidate: model, StatusCode: resp.StatusCode, Message: "response body too large"}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &errs.ProviderError{Candidate: model, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	out, errParse := parseChatResponse(model, body)
	if errParse != nil {
		return nil, errParse
	}
	log.WithFields(log.Fields{
		"model":      model,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("provider: completion received")
	return out, nil
}

func parseChatResponse(model string, body []byte) (*Response, error) {
	if !gjson.ValidBytes(body) {
		return nil, &errs.ProviderError{Candidate: model, Message: "malformed response body"}
	}
	parsed := gjson.ParseBytes(body)
	content := parsed.Get("choices.0.message.content")
	if !content.Exists() {
		content = parsed.Get("choices.0.text")
	}
	if strings.TrimSpace(content.String()) == "" {
		return nil, &errs.ProviderError{Candidate: model, Message: "empty completion content"}
	}

	out := &Response{Content: content.String(), Model: parsed.Get("model").String()}
	if out.Model == "" {
		out.Model = model
	}
	if usage := parsed.Get("usage"); usage.Exists() {
		out.Usage = &Usage{
			InputTokens:  usage.Get("prompt_tokens").Int(),
			OutputTokens: usage.Get("completion_tokens").Int(),
			TotalTokens:  usage.Get("total_tokens").Int(),
		}
		if out.Usage.TotalTokens == 0 {
			out.Usage.TotalTokens = out.Usage.InputTokens + out.Usage.OutputTokens
		}
	}
	return out, nil
}

func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return msg
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	if text == "" {
		return "empty error body"
	}
	return text
}
