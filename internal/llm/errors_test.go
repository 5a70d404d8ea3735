package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypeUnknown},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrorTypeTimeout},
		{"empty", fmt.Errorf("attempt: %w", ErrEmptyCompletion), ErrorTypeEmpty},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, ErrorTypeRateLimit},
		{"openai 401", &openai.APIError{HTTPStatusCode: 401, Message: "nope"}, ErrorTypeAuth},
		{"request error 503", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("x")}, ErrorTypeOverloaded},
		{"message overflow", errors.New("This model's maximum context length is 8192 tokens"), ErrorTypeContextOverflow},
		{"message billing", errors.New("insufficient_quota: check plans"), ErrorTypeBilling},
		{"message overloaded", errors.New("overloaded_error"), ErrorTypeOverloaded},
		{"message format", errors.New("roles must alternate"), ErrorTypeFormat},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyMessageOrder(t *testing.T) {
	// overflow wins over the generic invalid_request_error format marker
	msg := `{"type":"invalid_request_error","message":"prompt is too long"}`
	if got := ClassifyMessage(msg); got != ErrorTypeContextOverflow {
		t.Errorf("ClassifyMessage() = %q", got)
	}
}
