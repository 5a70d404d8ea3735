// Package llm resolves model candidates and talks to completion providers.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrNoCandidates is returned when configuration yields no usable model.
	ErrNoCandidates = errors.New("no model candidates configured")
	// ErrEmptyCompletion is returned when a provider answers without content or tool calls.
	ErrEmptyCompletion = errors.New("completion has no usable content")
)

// ErrorType categorizes provider errors for logs, metrics and the health cache.
type ErrorType string

const (
	ErrorTypeUnknown         ErrorType = "unknown"
	ErrorTypeContextOverflow ErrorType = "context_overflow"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeOverloaded      ErrorType = "overloaded"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeBilling         ErrorType = "billing"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeFormat          ErrorType = "format"
	ErrorTypeEmpty           ErrorType = "empty"
)

// messagePatterns is checked in order; the first type with a matching
// substring wins. Context overflow precedes format because overflow
// messages often also say invalid_request_error.
var messagePatterns = []struct {
	typ      ErrorType
	patterns []string
}{
	{ErrorTypeContextOverflow, []string{
		"context size has been exceeded", "context_length_exceeded", "context length exceeded",
		"maximum context length", "prompt is too long", "request_too_large",
		"exceeds model context window", "context overflow", "exceeded model token limit",
	}},
	{ErrorTypeRateLimit, []string{
		"429", "rate_limit", "rate limit", "too many requests", "quota exceeded",
		"exceeded your current quota", "resource_exhausted", "requests per minute",
	}},
	{ErrorTypeOverloaded, []string{
		"overloaded", "server is busy", "temporarily unavailable", "503 service", "capacity",
	}},
	{ErrorTypeBilling, []string{
		"402", "payment required", "insufficient credits", "credit balance", "billing",
		"insufficient_quota", "account balance",
	}},
	{ErrorTypeAuth, []string{
		"401", "403", "invalid api key", "invalid_api_key", "incorrect api key", "unauthorized",
		"forbidden", "access denied", "authentication", "invalid credentials",
	}},
	{ErrorTypeTimeout, []string{
		"408", "504", "timeout", "timed out", "deadline exceeded", "connection reset",
	}},
	{ErrorTypeFormat, []string{
		"invalid request format", "roles must alternate", "invalid_request_error", "malformed",
		"schema validation",
	}},
}

// ClassifyError maps an error to an ErrorType, preferring typed information
// (context deadlines, HTTP status codes) over message matching.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	if errors.Is(err, ErrEmptyCompletion) {
		return ErrorTypeEmpty
	}
	if t := classifyStatus(statusCode(err)); t != ErrorTypeUnknown {
		return t
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage maps an error message to an ErrorType.
func ClassifyMessage(msg string) ErrorType {
	lower := strings.ToLower(msg)
	if lower == "" {
		return ErrorTypeUnknown
	}
	for _, group := range messagePatterns {
		for _, p := range group.patterns {
			if strings.Contains(lower, p) {
				return group.typ
			}
		}
	}
	return ErrorTypeUnknown
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	return 0
}

func classifyStatus(code int) ErrorType {
	switch code {
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorTypeAuth
	case http.StatusPaymentRequired:
		return ErrorTypeBilling
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case http.StatusServiceUnavailable, 529:
		return ErrorTypeOverloaded
	case http.StatusRequestEntityTooLarge:
		return ErrorTypeContextOverflow
	default:
		return ErrorTypeUnknown
	}
}
