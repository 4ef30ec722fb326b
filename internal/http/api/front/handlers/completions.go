package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/http/api"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/provider"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/relay"
)

// CallerHeader carries the caller identity set by a trusted proxy.
const CallerHeader = "X-Caller-ID"

// Completer serves one completion through admission, maintenance and dispatch.
type Completer interface {
	Complete(ctx context.Context, callerID string, mode relay.Mode, req provider.Request) (*relay.Outcome, error)
}

// CompletionHandler serves completion requests.
type CompletionHandler struct {
	completer         Completer
	trustCallerHeader bool
}

// NewCompletionHandler constructs a CompletionHandler. Unless trustCallerHeader
// is set, callers are identified by client IP and CallerHeader is ignored.
func NewCompletionHandler(completer Completer, trustCallerHeader bool) *CompletionHandler {
	return &CompletionHandler{completer: completer, trustCallerHeader: trustCallerHeader}
}

type completionRequest struct {
	Mode        string             `json:"mode"`
	Prompt      string             `json:"prompt"`
	Messages    []provider.Message `json:"messages"`
	Temperature *float64           `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
}

// Create runs the failover cascade for the request body.
func (h *CompletionHandler) Create(c *gin.Context) {
	var body completionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	mode, errMode := relay.ParseMode(body.Mode)
	if errMode != nil {
		api.WriteError(c, errMode)
		return
	}

	callerID := h.callerID(c)

	outcome, errComplete := h.completer.Complete(c.Request.Context(), callerID, mode, provider.Request{
		Prompt:      body.Prompt,
		Messages:    body.Messages,
		Temperature: body.Temperature,
		MaxTokens:   body.MaxTokens,
	})
	if errComplete != nil {
		api.WriteError(c, errComplete)
		return
	}

	if outcome.Admission != nil {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(outcome.Admission.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(outcome.Admission.Reset.Unix(), 10))
	}

	result := outcome.Result
	resp := gin.H{
		"id":            result.RequestID,
		"model":         result.Model,
		"candidate":     result.Candidate,
		"used_fallback": result.UsedFallback(),
		"attempts":      result.Attempts,
		"latency_ms":    result.Latency.Milliseconds(),
	}
	if result.Response != nil {
		resp["content"] = result.Response.Content
		if result.Response.Usage != nil {
			resp["usage"] = result.Response.Usage
		}
	}
	if result.Notice != "" {
		resp["notice"] = result.Notice
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CompletionHandler) callerID(c *gin.Context) string {
	if h.trustCallerHeader {
		if id := strings.TrimSpace(c.GetHeader(CallerHeader)); id != "" {
			return id
		}
	}
	return c.ClientIP()
}
