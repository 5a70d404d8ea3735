// Package reply turns raw completion text into a StructuredReply and
// guarantees a fixed-shape list of follow-up suggestions.
package reply

import (
	"strings"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// Parse extracts a StructuredReply from raw completion text. It tries, in
// order: the whole string as a JSON object, a fenced JSON block, and the first
// brace-balanced object. Prose after a fenced block or a matched object is
// appended to the message. Parse returns nil when no object with a non-empty
// message or answer can be found; callers must not invent a reply then.
func Parse(raw string, sc SuggestionContext) *types.StructuredReply {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	if obj, ok := decodeObject(s); ok {
		return fromObject(obj, "", sc)
	}

	if inner, trailing, ok := stripFence(s); ok {
		if obj, ok := decodeObject(inner); ok {
			L_trace("reply: parsed fenced object", "trailing", len(trailing))
			return fromObject(obj, trailing, sc)
		}
	}

	if start := strings.IndexByte(s, '{'); start >= 0 {
		if end, ok := matchObject(s, start); ok {
			if obj, ok := decodeObject(s[start:end]); ok {
				L_trace("reply: parsed embedded object", "offset", start)
				return fromObject(obj, cleanTrailing(s[end:]), sc)
			}
		}
	}

	L_debug("reply: no structured object found", "length", len(s))
	return nil
}

func fromObject(obj map[string]any, trailing string, sc SuggestionContext) *types.StructuredReply {
	msg := stringField(obj, "message")
	if strings.TrimSpace(msg) == "" {
		msg = stringField(obj, "answer")
	}
	if strings.TrimSpace(msg) == "" {
		return nil
	}
	if trailing != "" {
		msg += "\n\n" + trailing
	}

	return &types.StructuredReply{
		Message:       msg,
		Suggestions:   FinalizeValue(obj["suggestions"], sc),
		ImageAnalyses: imageAnalyses(obj["imageAnalyses"]),
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// imageAnalyses keeps entries with string fileName and analysis and drops the rest.
func imageAnalyses(v any) []types.ImageAnalysis {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []types.ImageAnalysis
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, nameOK := m["fileName"].(string)
		analysis, analysisOK := m["analysis"].(string)
		if !nameOK || !analysisOK {
			continue
		}
		out = append(out, types.ImageAnalysis{FileName: name, Analysis: analysis})
	}
	return out
}
