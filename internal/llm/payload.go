package llm

import (
	"encoding/json"
	"strings"

	"github.com/itchyny/gojq"
)

// textQueries locate completion text in the response shapes we know about,
// most specific first.
var textQueries = mustCompile(
	`.choices[0].message.content | strings`,
	`[.choices[0].message.content[]? | objects | select(.type == "text") | .text] | join("")`,
	`.output_text | strings`,
	`[.output[]?.content[]? | objects | select(.type == "output_text" or .type == "text") | .text] | join("")`,
	`[.content[]? | objects | select(.type == "text") | .text] | join("")`,
	`.message.content | strings`,
	`.choices[0].text | strings`,
	`.response | strings`,
)

// walkKeys is the priority order for the recursive fallback walk.
var walkKeys = []string{"content", "text", "output_text", "message", "answer", "response", "output", "choices", "data", "result"}

const maxWalkDepth = 6

func mustCompile(srcs ...string) []*gojq.Code {
	codes := make([]*gojq.Code, 0, len(srcs))
	for _, src := range srcs {
		q, err := gojq.Parse(src)
		if err != nil {
			panic("llm: bad text query " + src + ": " + err.Error())
		}
		code, err := gojq.Compile(q)
		if err != nil {
			panic("llm: bad text query " + src + ": " + err.Error())
		}
		codes = append(codes, code)
	}
	return codes
}

// ExtractText returns the best-effort completion text from an arbitrary
// decoded provider payload, or "" if none can be found. Found text is
// returned verbatim; whitespace-only text counts as none.
func ExtractText(payload any) string {
	payload = normalizePayload(payload)
	if s, ok := payload.(string); ok {
		return nonBlank(s)
	}

	for _, code := range textQueries {
		iter := code.Run(payload)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if _, isErr := v.(error); isErr {
				break
			}
			if s, ok := v.(string); ok && nonBlank(s) != "" {
				return s
			}
		}
	}
	return nonBlank(walkText(payload, 0))
}

func nonBlank(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// walkText descends through walkKeys breadth-first per level, returning the
// first non-empty string.
func walkText(v any, depth int) string {
	if depth > maxWalkDepth {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s := walkText(item, depth+1); strings.TrimSpace(s) != "" {
				return s
			}
		}
	case map[string]any:
		for _, k := range walkKeys {
			child, ok := t[k]
			if !ok {
				continue
			}
			if s := walkText(child, depth+1); strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// normalizePayload converts typed values into the generic JSON shapes gojq accepts.
func normalizePayload(v any) any {
	switch t := v.(type) {
	case nil, string, map[string]any, []any:
		return t
	case []byte:
		return decodeRaw(t)
	case json.RawMessage:
		return decodeRaw(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return decodeRaw(raw)
}

func decodeRaw(raw []byte) any {
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	return out
}
