// Package orchestrator produces one structured reply per request by trying
// model candidates in order, with an optional tool round per attempt.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/chatreply/internal/health"
	"github.com/roelfdiedericks/chatreply/internal/llm"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/metrics"
	"github.com/roelfdiedericks/chatreply/internal/prompt"
	"github.com/roelfdiedericks/chatreply/internal/reply"
	"github.com/roelfdiedericks/chatreply/internal/tools"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// Options tunes every request handled by an Orchestrator.
type Options struct {
	Timeout           time.Duration // per completion call
	SuggestionTimeout time.Duration // for the follow-up generation call
	MaxTokens         int
	TokenBudget       int
	SystemPrompt      string
	Counter           func(string) int // token counter for the budget; nil uses tiktoken
}

// Request is one reply to produce.
type Request struct {
	TraceID      string
	Candidates   []llm.ModelCandidate
	History      []types.PromptMessage // chronological, latest user turn last
	LanguageHint string                // defaults to the latest user text

	// OnProgress, if set, is called synchronously as the run advances.
	OnProgress func(Progress)
}

// ProgressKind tags a Progress notification.
type ProgressKind string

const (
	ProgressAttempt       ProgressKind = "attempt"
	ProgressAttemptFailed ProgressKind = "attempt_failed"
	ProgressToolResult    ProgressKind = "tool_result"
)

// Progress reports one step of a run.
type Progress struct {
	Kind   ProgressKind
	State  State
	Model  string
	Reason string                     // attempt_failed only
	Tool   *types.ToolExecutionResult // tool_result only
}

// Result is a successful reply plus how it was produced.
type Result struct {
	TraceID     string
	Reply       types.StructuredReply
	ActiveModel llm.ModelCandidate
	Attempts    []Attempt // failed attempts before the successful one
	ToolResults []types.ToolExecutionResult
}

// Orchestrator is safe for concurrent use; it keeps no per-request state.
type Orchestrator struct {
	provider llm.CompletionProvider
	tools    tools.ToolClient
	health   health.Cache
	opts     Options
}

// New creates an Orchestrator. toolClient and cache may be nil.
func New(provider llm.CompletionProvider, toolClient tools.ToolClient, cache health.Cache, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.SuggestionTimeout <= 0 {
		opts.SuggestionTimeout = 20 * time.Second
	}
	return &Orchestrator{provider: provider, tools: toolClient, health: cache, opts: opts}
}

// Run tries each candidate until one yields a reply. When all fail it
// returns a *TerminalError; a cancelled ctx returns ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	startTime := time.Now()
	defer L_elapsed(startTime, "orchestrator: run", "trace", req.TraceID)

	question := latestUserText(req.History)
	if req.LanguageHint == "" {
		req.LanguageHint = question
	}

	st := Transition(State{Total: len(req.Candidates)}, Event{Kind: EventStart})
	if st.Phase == PhaseAllFailed {
		L_error("orchestrator: no model candidates", "trace", req.TraceID)
		metrics.MetricFailWithReason("orchestrator", "run", "no_candidates")
		return nil, &TerminalError{TraceID: req.TraceID, Cause: llm.ErrNoCandidates}
	}

	result := &Result{TraceID: req.TraceID}
	for !st.Phase.Terminal() {
		cand := req.Candidates[st.Candidate]
		L_debug("orchestrator: attempt", "trace", req.TraceID, "state", st.String(), "model", cand.String())
		req.notify(Progress{Kind: ProgressAttempt, State: st, Model: cand.String()})

		began := time.Now()
		out, err := o.attempt(ctx, cand, req, question, &st)
		o.recordHealth(ctx, cand, err, time.Since(began))

		if err == nil {
			st = Transition(st, Event{Kind: EventReply})
			result.Reply = out.reply
			result.ToolResults = out.toolResults
			result.ActiveModel = cand
			break
		}

		if ctx.Err() != nil {
			L_info("orchestrator: request cancelled", "trace", req.TraceID, "model", cand.String())
			return nil, ctx.Err()
		}

		a := Attempt{Candidate: cand, Err: err}
		result.Attempts = append(result.Attempts, a)
		L_warn("orchestrator: attempt failed", "trace", req.TraceID, "model", cand.String(), "reason", a.Reason(), "error", err)
		metrics.MetricFailWithReason("orchestrator", "attempt", a.Reason())
		req.notify(Progress{Kind: ProgressAttemptFailed, State: st, Model: cand.String(), Reason: a.Reason()})
		st = Transition(st, Event{Kind: EventFailure})
		if st.Phase == PhaseNextCandidate {
			L_debug("orchestrator: moving to next candidate", "trace", req.TraceID, "state", st.String())
			st = Transition(st, Event{Kind: EventAdvance})
		}
	}

	if st.Phase == PhaseAllFailed {
		terr := &TerminalError{TraceID: req.TraceID, Attempts: result.Attempts}
		L_error("orchestrator: all candidates failed", "trace", req.TraceID, "detail", terr.Detail())
		metrics.MetricFail("orchestrator", "run", terr)
		return nil, terr
	}

	if len(result.Attempts) > 0 {
		L_info("orchestrator: fallback succeeded", "trace", req.TraceID, "model", result.ActiveModel.String(), "failed", len(result.Attempts))
	}
	metrics.MetricSuccess("orchestrator", "run")
	return result, nil
}

type attemptOutput struct {
	reply       types.StructuredReply
	toolResults []types.ToolExecutionResult
}

func (o *Orchestrator) attempt(ctx context.Context, cand llm.ModelCandidate, req Request, question string, st *State) (*attemptOutput, error) {
	available := o.listTools(ctx, req.TraceID)

	msgs := prompt.Build(req.History, o.promptOptions(available, req.LanguageHint))
	comp, err := o.complete(ctx, cand, llm.CompletionRequest{
		Messages:  msgs,
		JSONMode:  len(available) == 0,
		Tools:     available,
		MaxTokens: o.opts.MaxTokens,
	}, o.opts.Timeout)
	if err != nil {
		return nil, err
	}
	if !comp.Usable() {
		return nil, llm.ErrEmptyCompletion
	}

	sc := reply.SuggestionContext{ContextText: question, LanguageHint: req.LanguageHint}

	if len(comp.ToolCalls) > 0 && len(available) > 0 {
		*st = Transition(*st, Event{Kind: EventToolCalls})
		return o.toolRound(ctx, cand, req, *st, sc, available, comp)
	}

	raw := comp.Text()
	if r := reply.Parse(raw, sc); r != nil {
		return &attemptOutput{reply: *r}, nil
	}
	if len(available) == 0 {
		// JSON mode was requested; an unstructured answer counts as a failed attempt
		return nil, ErrUnparseableReply
	}
	return &attemptOutput{reply: o.plainReply(ctx, cand, req.TraceID, question, raw, sc)}, nil
}

// toolRound runs the requested tools and asks the same candidate for a final
// JSON-mode answer built on their results.
func (o *Orchestrator) toolRound(ctx context.Context, cand llm.ModelCandidate, req Request, st State,
	sc reply.SuggestionContext, available []types.ToolDescriptor, comp *llm.Completion) (*attemptOutput, error) {

	L_info("orchestrator: tool round", "trace", req.TraceID, "model", cand.String(), "calls", len(comp.ToolCalls))
	results := tools.NewCoordinator(o.tools, available).Execute(ctx, comp.ToolCalls)
	for i := range results {
		req.notify(Progress{Kind: ProgressToolResult, State: st, Model: cand.String(), Tool: &results[i]})
	}

	history := make([]types.PromptMessage, 0, len(req.History)+2)
	history = append(history, req.History...)
	history = append(history, types.TextMessage(types.RoleAssistant, comp.Text()))
	history = append(history, tools.FollowUpTurn(results))

	msgs := prompt.Build(history, o.promptOptions(nil, req.LanguageHint))
	final, err := o.complete(ctx, cand, llm.CompletionRequest{
		Messages:  msgs,
		JSONMode:  true,
		MaxTokens: o.opts.MaxTokens,
	}, o.opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("final answer after tools: %w", err)
	}

	raw := final.Text()
	if r := reply.Parse(raw, sc); r != nil {
		return &attemptOutput{reply: *r, toolResults: results}, nil
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("final answer after tools: %w", llm.ErrEmptyCompletion)
	}
	L_debug("orchestrator: final answer not structured, using raw text", "trace", req.TraceID)
	return &attemptOutput{reply: o.plainReply(ctx, cand, req.TraceID, sc.ContextText, raw, sc), toolResults: results}, nil
}

// plainReply keeps raw as the message and generates suggestions with a
// separate best-effort call. Failures degrade to fallback suggestions.
func (o *Orchestrator) plainReply(ctx context.Context, cand llm.ModelCandidate, traceID, question, raw string, sc reply.SuggestionContext) types.StructuredReply {
	msgs := prompt.SuggestionMessages(question, raw, sc.LanguageHint)
	comp, err := o.complete(ctx, cand, llm.CompletionRequest{
		Messages:  msgs,
		JSONMode:  true,
		MaxTokens: 256,
	}, o.opts.SuggestionTimeout)

	var suggestions []string
	if err != nil {
		L_debug("orchestrator: suggestion generation failed", "trace", traceID, "model", cand.String(), "error", err)
		metrics.MetricFailWithReason("orchestrator", "suggestions", string(llm.ClassifyError(err)))
		suggestions = reply.FinalizeSuggestions("", sc)
	} else {
		metrics.MetricSuccess("orchestrator", "suggestions")
		suggestions = reply.FinalizeSuggestions(comp.Text(), sc)
	}
	return types.StructuredReply{Message: raw, Suggestions: suggestions}
}

// complete runs one provider call under its own deadline. The result channel
// is buffered so an abandoned call can always deliver and exit.
func (o *Orchestrator) complete(ctx context.Context, cand llm.ModelCandidate, req llm.CompletionRequest, timeout time.Duration) (*llm.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		comp *llm.Completion
		err  error
	}
	done := make(chan outcome, 1)
	stop := metrics.MetricTimer("orchestrator", "complete")
	go func() {
		comp, err := o.provider.Complete(callCtx, cand, req)
		done <- outcome{comp, err}
	}()

	select {
	case out := <-done:
		stop()
		return out.comp, out.err
	case <-callCtx.Done():
		stop()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s timed out after %s: %w", cand, timeout, context.DeadlineExceeded)
		}
		return nil, callCtx.Err()
	}
}

func (o *Orchestrator) listTools(ctx context.Context, traceID string) []types.ToolDescriptor {
	if o.tools == nil {
		return nil
	}
	list, err := o.tools.ListTools(ctx)
	if err != nil {
		L_warn("orchestrator: tool listing failed, continuing without tools", "trace", traceID, "error", err)
		return nil
	}
	return list
}

func (o *Orchestrator) promptOptions(available []types.ToolDescriptor, hint string) prompt.Options {
	return prompt.Options{
		Tools:        available,
		LanguageHint: hint,
		SystemPrompt: o.opts.SystemPrompt,
		TokenBudget:  o.opts.TokenBudget,
		Counter:      o.opts.Counter,
	}
}

func (o *Orchestrator) recordHealth(ctx context.Context, cand llm.ModelCandidate, err error, took time.Duration) {
	if o.health == nil {
		return
	}
	s := health.Status{
		Model:     cand.ModelID,
		Endpoint:  cand.Endpoint,
		Healthy:   err == nil,
		LatencyMs: took.Milliseconds(),
		CheckedAt: time.Now(),
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.Reason = Attempt{Candidate: cand, Err: err}.Reason()
	}
	o.health.Put(context.WithoutCancel(ctx), s)
}

func (r Request) notify(p Progress) {
	if r.OnProgress != nil {
		r.OnProgress(p)
	}
}

func latestUserText(history []types.PromptMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == types.RoleUser {
			if t := strings.TrimSpace(history[i].PlainText()); t != "" {
				return t
			}
		}
	}
	return ""
}
