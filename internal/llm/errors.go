package llm

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrorKind categorizes backend failures for retry and user messaging decisions.
type ErrorKind string

const (
	KindRateLimit      ErrorKind = "rate_limit"
	KindAuthentication ErrorKind = "authentication"
	KindTimeout        ErrorKind = "timeout"
	KindConnection     ErrorKind = "connection_error"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindContentPolicy  ErrorKind = "content_policy"
	KindContextWindow  ErrorKind = "context_window_exceeded"
	KindServer         ErrorKind = "server_error"
	KindEmptyResponse  ErrorKind = "empty_response"
	KindUnknown        ErrorKind = "unknown"

	// KindHandler marks a failure inside the classifier/executor itself.
	// Never produced by Classify; only by the executor's recovery path.
	KindHandler ErrorKind = "handler_error"
)

// BackoffStrategy selects the delay formula between retry attempts.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffNone        BackoffStrategy = "none"
)

// Classification is the outcome of classifying one backend failure.
type Classification struct {
	Kind       ErrorKind
	Retryable  bool
	Backoff    BackoffStrategy
	RetryAfter time.Duration // explicit hint from the failure message, 0 = none
}

// EmptyResponseError marks a backend call that succeeded at the transport
// level but produced no usable payload.
type EmptyResponseError struct {
	Detail string
}

func (e *EmptyResponseError) Error() string {
	if e.Detail == "" {
		return "empty response from model"
	}
	return "empty response from model: " + e.Detail
}

// KindRetryable returns the fixed retryability for an error kind.
func KindRetryable(kind ErrorKind) bool {
	switch kind {
	case KindRateLimit, KindTimeout, KindConnection, KindServer, KindEmptyResponse:
		return true
	default:
		return false
	}
}

// KindBackoff returns the backoff strategy for an error kind.
// Rate limits and server errors back off exponentially; timeouts, connection
// failures, and empty responses back off linearly.
func KindBackoff(kind ErrorKind) BackoffStrategy {
	switch kind {
	case KindRateLimit, KindServer:
		return BackoffExponential
	case KindTimeout, KindConnection, KindEmptyResponse:
		return BackoffLinear
	default:
		return BackoffNone
	}
}

// Classify maps a backend failure to an error kind. Pure: it inspects only
// the error's type and message text, never provider-specific error types.
// Unmatched failures classify as unknown (non-retryable).
func Classify(err error) Classification {
	kind := classifyError(err)
	cls := Classification{
		Kind:      kind,
		Retryable: KindRetryable(kind),
		Backoff:   KindBackoff(kind),
	}
	if err != nil {
		cls.RetryAfter = ParseRetryAfter(err.Error())
	}
	return cls
}

// classifyError determines the error kind from type and message.
func classifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	// Type-level checks first: these are unambiguous.
	var emptyErr *EmptyResponseError
	if errors.As(err, &emptyErr) {
		return KindEmptyResponse
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}

	return ClassifyMessage(err.Error())
}

// ClassifyMessage determines the error kind from a message alone.
// Checked in order of specificity: context overflow must come before
// invalid_request and authentication, since providers report it as a
// 400 with invalid_request_error details.
func ClassifyMessage(msg string) ErrorKind {
	if msg == "" {
		return KindUnknown
	}
	switch {
	case IsContextWindowMessage(msg):
		return KindContextWindow
	case IsRateLimitMessage(msg):
		return KindRateLimit
	case IsContentPolicyMessage(msg):
		return KindContentPolicy
	case IsAuthMessage(msg):
		return KindAuthentication
	case IsTimeoutMessage(msg):
		return KindTimeout
	case IsConnectionMessage(msg):
		return KindConnection
	case IsServerMessage(msg):
		return KindServer
	case IsEmptyResponseMessage(msg):
		return KindEmptyResponse
	case IsInvalidRequestMessage(msg):
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}

// IsContextWindowMessage checks if a message indicates context window exceeded.
// Works across providers (LM Studio, OpenAI, Anthropic, Ollama, etc).
func IsContextWindowMessage(msg string) bool {
	lower := strings.ToLower(msg)

	// LM Studio
	if strings.Contains(lower, "context size has been exceeded") {
		return true
	}

	// OpenAI / OpenRouter
	if strings.Contains(lower, "context_length_exceeded") {
		return true
	}

	// Anthropic
	if strings.Contains(lower, "context length exceeded") {
		return true
	}

	// Common patterns
	if strings.Contains(lower, "maximum context length") ||
		strings.Contains(lower, "prompt is too long") ||
		strings.Contains(lower, "request_too_large") ||
		strings.Contains(lower, "request exceeds the maximum size") ||
		strings.Contains(lower, "exceeds model context window") ||
		strings.Contains(lower, "context window exceeded") ||
		strings.Contains(lower, "context overflow") {
		return true
	}

	// HTTP 413 with size indication
	if strings.Contains(lower, "413") && strings.Contains(lower, "too large") {
		return true
	}

	return false
}

// IsRateLimitMessage checks if a message indicates rate limiting or quota
// exhaustion.
func IsRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)

	// HTTP 429
	if strings.Contains(lower, "429") {
		return true
	}

	if strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "exceeded your current quota") ||
		strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "resource has been exhausted") ||
		strings.Contains(lower, "usage limit") ||
		strings.Contains(lower, "requests per minute") ||
		strings.Contains(lower, "requests per day") {
		return true
	}

	return false
}

// IsContentPolicyMessage checks if a message indicates a content policy refusal.
func IsContentPolicyMessage(msg string) bool {
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "content policy") ||
		strings.Contains(lower, "content_policy") ||
		strings.Contains(lower, "content management policy") ||
		strings.Contains(lower, "content filter") ||
		strings.Contains(lower, "flagged by moderation") ||
		strings.Contains(lower, "moderation") ||
		strings.Contains(lower, "safety system") ||
		strings.Contains(lower, "responsible ai") {
		return true
	}

	return false
}

// IsAuthMessage checks if a message indicates authentication failure.
func IsAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)

	// HTTP 401, 403
	if strings.Contains(lower, "401") || strings.Contains(lower, "403") {
		return true
	}

	if strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "invalid_api_key") ||
		strings.Contains(lower, "incorrect api key") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "token has expired") ||
		strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "no api key found") ||
		strings.Contains(lower, "api key not found") ||
		strings.Contains(lower, "invalid credentials") {
		return true
	}

	return false
}

// IsTimeoutMessage checks if a message indicates a timeout.
func IsTimeoutMessage(msg string) bool {
	lower := strings.ToLower(msg)

	// HTTP 408, 504
	if strings.Contains(lower, "408") || strings.Contains(lower, "504") {
		return true
	}

	if strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "request cancelled") ||
		strings.Contains(lower, "context canceled") {
		return true
	}

	return false
}

// IsConnectionMessage checks if a message indicates a network-level failure.
func IsConnectionMessage(msg string) bool {
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection error") ||
		strings.Contains(lower, "broken pipe") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "dns") ||
		strings.Contains(lower, "tls handshake") {
		return true
	}

	return false
}

// IsServerMessage checks if a message indicates a backend server failure
// or overload.
func IsServerMessage(msg string) bool {
	lower := strings.ToLower(msg)

	// HTTP 5xx
	if strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") {
		return true
	}

	if strings.Contains(lower, "internal server error") ||
		strings.Contains(lower, "server_error") ||
		strings.Contains(lower, "bad gateway") ||
		strings.Contains(lower, "service unavailable") ||
		strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "server is busy") ||
		strings.Contains(lower, "temporarily unavailable") {
		return true
	}

	return false
}

// IsEmptyResponseMessage checks if a message indicates a missing payload.
func IsEmptyResponseMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "empty response") ||
		strings.Contains(lower, "no response received") ||
		strings.Contains(lower, "response was empty")
}

// IsInvalidRequestMessage checks if a message indicates a malformed request.
func IsInvalidRequestMessage(msg string) bool {
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "400") || strings.Contains(lower, "422") {
		return true
	}

	if strings.Contains(lower, "invalid request") ||
		strings.Contains(lower, "invalid_request_error") ||
		strings.Contains(lower, "roles must alternate") ||
		strings.Contains(lower, "malformed") ||
		strings.Contains(lower, "schema validation") ||
		strings.Contains(lower, "unprocessable") {
		return true
	}

	return false
}

var (
	// "retry after 30 seconds", "retry in 2 minutes", "try again in 45s"
	retryAfterRe = regexp.MustCompile(`(?i)(?:retry|try again)[^0-9]{0,20}?(\d+(?:\.\d+)?)\s*(seconds?|secs?|s|minutes?|mins?|m)\b`)
	// "Retry-After: 30"
	retryAfterHeaderRe = regexp.MustCompile(`(?i)retry-after[:=]\s*(\d+)`)
)

// ParseRetryAfter extracts an explicit retry hint from a failure message.
// Returns 0 when the message carries no hint.
func ParseRetryAfter(msg string) time.Duration {
	if msg == "" {
		return 0
	}

	if m := retryAfterRe.FindStringSubmatch(msg); len(m) > 2 {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0
		}
		unit := strings.ToLower(m[2])
		if strings.HasPrefix(unit, "m") {
			return time.Duration(value * float64(time.Minute))
		}
		return time.Duration(value * float64(time.Second))
	}

	if m := retryAfterHeaderRe.FindStringSubmatch(msg); len(m) > 1 {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			return time.Duration(secs) * time.Second
		}
	}

	return 0
}

// UserMessage returns a user-facing message for an error kind.
// The raw backend message is logged but never shown verbatim.
func UserMessage(kind ErrorKind, msg string) string {
	switch kind {
	case KindRateLimit:
		return "Rate limited - too many requests. Please wait a moment and try again."
	case KindAuthentication:
		return "Authentication failed. Check your API key configuration."
	case KindTimeout:
		return "Request timed out. Please try again."
	case KindConnection:
		return "Could not reach the AI service. Check your network connection."
	case KindInvalidRequest:
		return "The request was rejected as invalid by the AI service."
	case KindContentPolicy:
		return "The request was declined by the provider's content policy."
	case KindContextWindow:
		return "The conversation is too large for this model's context window."
	case KindServer:
		return "The AI service is temporarily unavailable. Please try again in a moment."
	case KindEmptyResponse:
		return "The model returned an empty response. Please try again."
	case KindHandler:
		return "An internal gateway error occurred while handling a failure."
	default:
		if msg != "" {
			return "LLM error: " + msg
		}
		return "An unknown LLM error occurred."
	}
}
