// Package dispatch runs one completion request through the failover cascade:
// primary key, backup key, then the ranked fallback models.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/provider"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/settings"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/usage"
	log "github.com/sirupsen/logrus"
)

// State is a dispatch state.
type State string

const (
	StateTryingPrimary  State = "trying_primary"
	StateTryingBackup   State = "trying_backup"
	StateTryingFallback State = "trying_fallback"
	StateSucceeded      State = "succeeded"
	StateExhausted      State = "exhausted"
)

// Transition is one visited state; Index is set for StateTryingFallback.
type Transition struct {
	State State  `json:"state"`
	Index int    `json:"index,omitempty"`
	Model string `json:"model,omitempty"`
}

// Result describes a successful dispatch.
type Result struct {
	RequestID string              `json:"request_id"`
	Response  *provider.Response  `json:"response"`
	Candidate string              `json:"candidate"`
	Kind      usage.CandidateKind `json:"kind"`
	Model     string              `json:"model"`
	Attempts  int                 `json:"attempts"`
	Latency   time.Duration       `json:"-"`
	Notice    string              `json:"notice,omitempty"`
	States    []Transition        `json:"states"`
}

// UsedFallback reports whether a fallback model produced the response.
func (r *Result) UsedFallback() bool {
	return r != nil && r.Kind == usage.KindFallback
}

// ConfigSource supplies the configuration snapshot read once per dispatch.
type ConfigSource interface {
	Get() fallback.Config
}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Dispatcher executes the cascade. It is safe for concurrent use; each call
// works on its own snapshot.
type Dispatcher struct {
	source   ConfigSource
	client   provider.Client
	recorder *usage.Recorder
	nowFn    func() time.Time
	sleep    SleepFunc
}

// NewDispatcher constructs a Dispatcher. recorder may be nil.
func NewDispatcher(source ConfigSource, client provider.Client, recorder *usage.Recorder, nowFn func() time.Time) *Dispatcher {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Dispatcher{
		source:   source,
		client:   client,
		recorder: recorder,
		nowFn:    nowFn,
		sleep:    sleepContext,
	}
}

// WithSleep replaces the delay implementation.
func (d *Dispatcher) WithSleep(fn SleepFunc) *Dispatcher {
	if fn != nil {
		d.sleep = fn
	}
	return d
}

// Dispatch tries each candidate once (plus its retries) in order and returns
// the first non-empty response. It never restarts the cascade.
func (d *Dispatcher) Dispatch(ctx context.Context, req provider.Request) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Empty() {
		return nil, errs.Validation("prompt", "must not be empty")
	}
	if d.client == nil {
		return nil, errors.New("dispatch: provider client not configured")
	}

	cfg := d.source.Get()
	candidates := BuildCandidates(cfg)
	result := &Result{RequestID: uuid.NewString()}
	delay := cfg.Fallback.FallbackDelay()

	for i, c := range candidates {
		result.States = append(result.States, Transition{State: c.state(), Index: c.Index, Model: c.Model})
		for try := 1; try <= c.MaxRetries+1; try++ {
			if errCtx := ctx.Err(); errCtx != nil {
				return nil, d.canceled(result, errCtx)
			}
			result.Attempts++
			started := d.nowFn()
			resp, errAttempt := d.attempt(ctx, c, c.request(req))
			latency := d.nowFn().Sub(started)
			d.record(result.RequestID, c, try, latency, errAttempt)

			if errAttempt == nil {
				return d.succeeded(result, cfg, c, resp, latency), nil
			}
			if errCtx := ctx.Err(); errCtx != nil {
				return nil, d.canceled(result, errCtx)
			}
			log.WithFields(log.Fields{
				"request_id": result.RequestID,
				"candidate":  c.Label(),
				"attempt":    try,
			}).WithError(errAttempt).Warn("dispatch: attempt failed")
		}
		if i < len(candidates)-1 {
			if errSleep := d.sleep(ctx, delay); errSleep != nil {
				return nil, d.canceled(result, errSleep)
			}
		}
	}

	result.States = append(result.States, Transition{State: StateExhausted})
	log.WithFields(log.Fields{
		"request_id": result.RequestID,
		"attempts":   result.Attempts,
	}).Warn("dispatch: all candidates failed")
	return nil, &errs.FailoverExhaustedError{Attempts: result.Attempts}
}

// attempt runs one provider call under the candidate timeout. A call still in
// flight when the timeout or ctx fires is abandoned.
func (d *Dispatcher) attempt(ctx context.Context, c Candidate, req provider.Request) (*provider.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	type outcome struct {
		resp *provider.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, errComplete := d.client.Complete(attemptCtx, c.APIKey, req)
		done <- outcome{resp: resp, err: errComplete}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return nil, &errs.ProviderTimeoutError{Candidate: c.Label(), Timeout: c.Timeout}
			}
			return nil, out.err
		}
		if out.resp == nil || strings.TrimSpace(out.resp.Content) == "" {
			return nil, &errs.ProviderError{Candidate: c.Label(), Message: "empty response"}
		}
		return out.resp, nil
	case <-attemptCtx.Done():
		if errCtx := ctx.Err(); errCtx != nil {
			return nil, errCtx
		}
		return nil, &errs.ProviderTimeoutError{Candidate: c.Label(), Timeout: c.Timeout}
	}
}

func (d *Dispatcher) succeeded(result *Result, cfg fallback.Config, c Candidate, resp *provider.Response, latency time.Duration) *Result {
	result.States = append(result.States, Transition{State: StateSucceeded})
	result.Response = resp
	result.Candidate = c.Label()
	result.Kind = c.Kind
	result.Model = c.Model
	result.Latency = latency
	if c.Kind == usage.KindFallback {
		if cfg.Fallback.NotifyOnFallback {
			result.Notice = cfg.Fallback.NotificationMessage
			if result.Notice == "" {
				result.Notice = settings.DefaultFallbackNotice
			}
		}
		log.WithFields(log.Fields{
			"request_id": result.RequestID,
			"candidate":  c.Label(),
			"attempts":   result.Attempts,
		}).Info("dispatch: served by fallback model")
	}
	return result
}

func (d *Dispatcher) canceled(result *Result, errCtx error) error {
	log.WithFields(log.Fields{
		"request_id": result.RequestID,
		"attempts":   result.Attempts,
	}).WithError(errCtx).Info("dispatch: canceled")
	return &errs.FailoverExhaustedError{Attempts: result.Attempts, Canceled: true, Err: errCtx}
}

func (d *Dispatcher) record(requestID string, c Candidate, try int, latency time.Duration, errAttempt error) {
	if d.recorder == nil {
		return
	}
	entry := usage.Entry{
		RequestID: requestID,
		Timestamp: d.nowFn(),
		Candidate: c.Label(),
		Kind:      c.Kind,
		Model:     c.Model,
		Attempt:   try,
		Outcome:   usage.OutcomeSuccess,
	}
	var timeoutErr *errs.ProviderTimeoutError
	switch {
	case errAttempt == nil:
		entry.LatencyMs = usage.Latency(latency)
	case errors.As(errAttempt, &timeoutErr):
		entry.Outcome = usage.OutcomeTimeout
		entry.Error = errAttempt.Error()
	default:
		entry.Outcome = usage.OutcomeError
		entry.Error = errAttempt.Error()
	}
	d.recorder.Append(entry)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
