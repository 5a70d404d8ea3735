package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roelfdiedericks/chatreply/internal/llm"
)

// ErrUnparseableReply means a JSON-mode completion had no structured reply.
var ErrUnparseableReply = errors.New("completion is not a structured reply")

// Attempt records one candidate's failure.
type Attempt struct {
	Candidate llm.ModelCandidate
	Err       error
}

// Reason classifies the failure for logs and the health cache.
func (a Attempt) Reason() string {
	if errors.Is(a.Err, ErrUnparseableReply) {
		return string(llm.ErrorTypeFormat)
	}
	return string(llm.ClassifyError(a.Err))
}

// TerminalError is the single error surfaced when no candidate produced a
// reply. Error is safe to show users; Detail is for logs.
type TerminalError struct {
	TraceID  string
	Attempts []Attempt
	Cause    error // set for configuration failures, e.g. llm.ErrNoCandidates
}

func (e *TerminalError) Error() string {
	if errors.Is(e.Cause, llm.ErrNoCandidates) {
		return fmt.Sprintf("No language model is configured. Please contact the administrator (trace %s).", e.TraceID)
	}
	return fmt.Sprintf("Sorry, I couldn't generate a reply right now. Please try again later (trace %s).", e.TraceID)
}

func (e *TerminalError) Unwrap() error {
	return e.Cause
}

// Detail lists every attempt for logs. Never show it to users.
func (e *TerminalError) Detail() string {
	if len(e.Attempts) == 0 {
		if e.Cause != nil {
			return e.Cause.Error()
		}
		return "no attempts"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s: %v", a.Candidate, a.Reason(), a.Err))
	}
	return strings.Join(parts, "; ")
}
