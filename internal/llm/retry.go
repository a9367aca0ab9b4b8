package llm

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/config"
	. "github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/metrics"
)

// RetryPolicy computes retry eligibility and backoff delay from an error
// kind and a zero-indexed attempt number.
type RetryPolicy struct {
	MaxRetries int     // retry attempts after the initial call
	BaseDelay  float64 // seconds
	MaxDelay   float64 // seconds, caps both computed delays and retry hints
}

// DefaultRetryPolicy returns the default policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 1.0, MaxDelay: 60.0}
}

// PolicyFromConfig builds a policy from the retry config section, filling
// unset fields from the defaults.
func PolicyFromConfig(rc config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if rc.MaxRetries > 0 {
		p.MaxRetries = rc.MaxRetries
	}
	if rc.BaseDelay > 0 {
		p.BaseDelay = rc.BaseDelay
	}
	if rc.MaxDelay > 0 {
		p.MaxDelay = rc.MaxDelay
	}
	return p
}

// Retryable reports whether an error kind is eligible for retry.
func (p RetryPolicy) Retryable(kind ErrorKind) bool {
	return KindRetryable(kind)
}

// Delay computes the backoff delay for attempt n (zero-indexed):
// exponential kinds get base * 2^n, linear kinds base * (n+1).
func (p RetryPolicy) Delay(kind ErrorKind, attempt int) time.Duration {
	var secs float64
	switch KindBackoff(kind) {
	case BackoffExponential:
		secs = p.BaseDelay * math.Pow(2, float64(attempt))
	case BackoffLinear:
		secs = p.BaseDelay * float64(attempt+1)
	default:
		secs = p.BaseDelay
	}
	if p.MaxDelay > 0 && secs > p.MaxDelay {
		secs = p.MaxDelay
	}
	return time.Duration(secs * float64(time.Second))
}

// Call is an injected backend dispatch. The gateway never speaks a backend
// protocol itself; callers supply the actual request as a closure.
type Call func(ctx context.Context) (string, error)

// Result is a successful gateway call.
type Result struct {
	Status   string `json:"status"` // always "success"
	Content  string `json:"content"`
	ModelID  string `json:"model_id"`
	Attempts int    `json:"attempts"` // retries performed before success
}

// ErrorResult is the structured error returned when a call fails terminally.
// Caller-supplied context is logged but never included here.
type ErrorResult struct {
	Status     string    `json:"status"` // always "error"
	ErrorCode  ErrorKind `json:"error_code"`
	Message    string    `json:"message"`
	ModelID    string    `json:"model_id"`
	Timestamp  time.Time `json:"timestamp"`
	Retryable  bool      `json:"retryable"`
	RetryAfter float64   `json:"retry_after,omitempty"` // seconds
	Attempts   int       `json:"attempts"`
}

// Error implements the error interface.
func (e *ErrorResult) Error() string {
	return string(e.ErrorCode) + ": " + e.Message
}

// defaultRateLimitRetryAfter is surfaced when a rate limit error carries no
// explicit hint.
const defaultRateLimitRetryAfter = 60 * time.Second

// Executor wraps backend calls with classification, bounded retries, and
// usage registration. The zero MaxRetries policy still makes the initial call.
type Executor struct {
	policy  RetryPolicy
	tracker UsageTracker        // optional: registers use on success
	stats   *metrics.ErrorStats // optional: error counters

	// test seams
	classify func(error) Classification
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor. tracker and stats may be nil.
func NewExecutor(policy RetryPolicy, tracker UsageTracker, stats *metrics.ErrorStats) *Executor {
	return &Executor{
		policy:   policy,
		tracker:  tracker,
		stats:    stats,
		classify: Classify,
		sleep:    sleepCtx,
	}
}

// sleepCtx blocks for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do dispatches call for model with the configured retry policy. It returns
// either a success Result or a structured ErrorResult, never a raw error:
// a panic anywhere in failure handling is converted to a handler_error result.
func (e *Executor) Do(ctx context.Context, model Model, call Call) (res *Result, errRes *ErrorResult) {
	defer func() {
		if r := recover(); r != nil {
			L_error("llm: panic in retry executor", "model", model.ID, "panic", r)
			res = nil
			errRes = &ErrorResult{
				Status:    "error",
				ErrorCode: KindHandler,
				Message:   UserMessage(KindHandler, ""),
				ModelID:   model.ID,
				Timestamp: time.Now(),
				Retryable: false,
			}
		}
	}()

	for attempt := 0; ; attempt++ {
		payload, err := call(ctx)
		if err == nil {
			err = ValidateResponse(payload)
		}
		if err == nil {
			if e.tracker != nil {
				e.tracker.RegisterUse(model)
			}
			if attempt > 0 {
				L_info("llm: call succeeded after retry", "model", model.ID, "attempts", attempt)
			}
			return &Result{Status: "success", Content: payload, ModelID: model.ID, Attempts: attempt}, nil
		}

		cls := e.classify(err)
		if e.stats != nil {
			e.stats.Record(string(cls.Kind), err.Error())
		}
		L_warn("llm: call failed", "model", model.ID, "kind", cls.Kind, "attempt", attempt, "error", err)

		if !cls.Retryable || attempt >= e.policy.MaxRetries {
			return nil, e.errorResult(model, cls, err, attempt)
		}

		delay := e.policy.Delay(cls.Kind, attempt)
		if cls.RetryAfter > 0 {
			// An explicit hint beyond MaxDelay is not worth waiting for.
			if e.policy.MaxDelay > 0 && cls.RetryAfter > time.Duration(e.policy.MaxDelay*float64(time.Second)) {
				return nil, e.errorResult(model, cls, err, attempt)
			}
			delay = cls.RetryAfter
		}

		L_debug("llm: backing off", "model", model.ID, "kind", cls.Kind, "delay", delay)
		if serr := e.sleep(ctx, delay); serr != nil {
			cancelCls := e.classify(serr)
			return nil, e.errorResult(model, cancelCls, serr, attempt)
		}
	}
}

// errorResult builds the terminal structured error for a failed call.
func (e *Executor) errorResult(model Model, cls Classification, err error, attempts int) *ErrorResult {
	result := &ErrorResult{
		Status:    "error",
		ErrorCode: cls.Kind,
		Message:   UserMessage(cls.Kind, err.Error()),
		ModelID:   model.ID,
		Timestamp: time.Now(),
		Retryable: cls.Retryable,
		Attempts:  attempts,
	}

	retryAfter := cls.RetryAfter
	if retryAfter == 0 && cls.Kind == KindRateLimit {
		retryAfter = defaultRateLimitRetryAfter
	}
	if retryAfter > 0 {
		result.RetryAfter = retryAfter.Seconds()
	}

	return result
}

// placeholderPayloads are strings some backends emit instead of an actual
// empty body.
var placeholderPayloads = map[string]bool{
	"null":           true,
	"none":           true,
	"undefined":      true,
	"nil":            true,
	"empty response": true,
	"no response":    true,
	"(empty)":        true,
}

// ValidateResponse checks a successful call's payload. Empty, whitespace-only,
// and known placeholder payloads are rejected as an empty response.
func ValidateResponse(payload string) error {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return &EmptyResponseError{}
	}
	if placeholderPayloads[strings.ToLower(trimmed)] {
		return &EmptyResponseError{Detail: trimmed}
	}
	return nil
}
