// Package prompt assembles the message list sent to a completion provider:
// one system instruction followed by the cleaned conversation history.
package prompt

import (
	"fmt"
	"strings"

	"github.com/roelfdiedericks/chatreply/internal/lang"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/tokens"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// Options controls how Build frames the conversation.
type Options struct {
	// Tools switches to tools mode: plain-text answers with tool use allowed.
	// Empty means JSON mode.
	Tools []types.ToolDescriptor
	// LanguageHint is usually the user's latest message.
	LanguageHint string
	// SystemPrompt is prepended to the generated instruction when set.
	SystemPrompt string
	// TokenBudget drops the oldest turns until the prompt fits. Zero disables it.
	TokenBudget int
	// Counter sizes text for the budget. Defaults to tokens.Estimate.
	Counter func(string) int
}

// Build returns exactly one system message followed by the usable history turns.
func Build(history []types.PromptMessage, opts Options) []types.PromptMessage {
	turns := cleanHistory(history)

	hasImages := false
	for _, m := range turns {
		if m.HasImages() {
			hasImages = true
			break
		}
	}

	system := types.TextMessage(types.RoleSystem, SystemInstruction(opts, hasImages))

	if opts.TokenBudget > 0 {
		turns = fitBudget(system, turns, opts.TokenBudget, opts.Counter)
	}

	out := make([]types.PromptMessage, 0, len(turns)+1)
	out = append(out, system)
	out = append(out, turns...)

	L_trace("prompt: built", "turns", len(turns), "tools", len(opts.Tools), "images", hasImages)
	return out
}

// SystemInstruction renders the system text for the given mode.
func SystemInstruction(opts Options, hasImages bool) string {
	var sections []string
	if s := strings.TrimSpace(opts.SystemPrompt); s != "" {
		sections = append(sections, s)
	}
	if len(opts.Tools) > 0 {
		sections = append(sections, buildToolsSection(opts.Tools))
	} else {
		sections = append(sections, buildJSONSection(hasImages))
	}
	if s := buildLanguageSection(opts.LanguageHint); s != "" {
		sections = append(sections, s)
	}
	return strings.Join(sections, "\n\n")
}

func buildToolsSection(tools []types.ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Answer in plain text.\n\n")
	b.WriteString("## Tools\n")
	b.WriteString("You can call the following tools when the question needs live data, calculation or an action you cannot do from memory:\n")
	for _, t := range tools {
		desc := strings.TrimSpace(t.Description)
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, desc)
	}
	b.WriteString("\nCall a tool only when it is needed. If you can answer directly, do so.\n")
	b.WriteString("After receiving tool results, give the final answer directly as prose without mentioning the tool mechanics.")
	return b.String()
}

func buildJSONSection(hasImages bool) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant.\n\n")
	b.WriteString("## Response format\n")
	b.WriteString("Respond with a single JSON object and nothing else: no prose before or after it and no markdown code fences.\n")
	if hasImages {
		b.WriteString(`The object has the shape {"message": string, "suggestions": [string, string, string], "imageAnalyses": [{"fileName": string, "analysis": string}]}.` + "\n")
		b.WriteString(`"imageAnalyses" holds one short analysis per attached image, keyed by its file name.` + "\n")
	} else {
		b.WriteString(`The object has the shape {"message": string, "suggestions": [string, string, string]}.` + "\n")
	}
	b.WriteString(`"message" is your full answer and may use markdown inside the string.` + "\n")
	b.WriteString(`"suggestions" holds exactly three short follow-up questions the user might ask next, each under 80 characters.`)
	return b.String()
}

func buildLanguageSection(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}
	if lang.IsChinese(hint) {
		return "## Language\nThe user writes in Chinese. Write the answer and the suggestions in Chinese."
	}
	return "## Language\nWrite the answer and the suggestions in the same language as the user's latest message."
}

// cleanHistory drops system and empty turns and trims text turns.
// Multimodal turns pass through unchanged.
func cleanHistory(history []types.PromptMessage) []types.PromptMessage {
	out := make([]types.PromptMessage, 0, len(history))
	for _, m := range history {
		if m.Role == types.RoleSystem {
			continue
		}
		if m.IsMultimodal() {
			if len(m.Parts) == 0 {
				continue
			}
			out = append(out, m)
			continue
		}
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		out = append(out, types.TextMessage(m.Role, text))
	}
	return out
}

// fitBudget drops turns from the front until the total fits. The latest turn
// is always kept even if it alone exceeds the budget.
func fitBudget(system types.PromptMessage, turns []types.PromptMessage, budget int, count func(string) int) []types.PromptMessage {
	if count == nil {
		count = tokens.Estimate
	}
	sizes := make([]int, len(turns))
	total := tokens.MessageTokens(system, count)
	for i, m := range turns {
		sizes[i] = tokens.MessageTokens(m, count)
		total += sizes[i]
	}

	start := 0
	for total > budget && start < len(turns)-1 {
		total -= sizes[start]
		start++
	}
	if start > 0 {
		L_debug("prompt: trimmed history to budget", "dropped", start, "budget", budget, "estimate", total)
	}
	return turns[start:]
}
