package reply

import (
	"encoding/json"
	"strings"
)

const fence = "```"

// decodeObject parses s as a single JSON object.
func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// stripFence splits a string that starts with a markdown code fence into the
// fenced body and whatever follows the closing fence. The language tag on the
// opening line is dropped.
func stripFence(s string) (inner, trailing string, ok bool) {
	if !strings.HasPrefix(s, fence) {
		return "", "", false
	}
	body := s[len(fence):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// a tag line is a bare word like "json"; anything else is content
		if tag := strings.TrimSpace(body[:nl]); !strings.ContainsAny(tag, "{[") {
			body = body[nl+1:]
		}
	}
	end := strings.Index(body, fence)
	if end < 0 {
		return strings.TrimSpace(body), "", true
	}
	return strings.TrimSpace(body[:end]), strings.TrimSpace(body[end+len(fence):]), true
}

// matchObject returns the index just past the brace closing the object that
// opens at s[start]. Braces inside string literals are ignored.
func matchObject(s string, start int) (int, bool) {
	if start >= len(s) || s[start] != '{' {
		return 0, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// cleanTrailing tidies prose found after an extracted object, dropping a
// dangling closing fence left over from fenced output.
func cleanTrailing(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, fence)
	return strings.TrimSpace(s)
}

// decodeLenient decodes a JSON value that may be fenced or surrounded by
// noise. The last resort spans the first '[' or '{' to the last ']' or '}'.
func decodeLenient(raw string) (any, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}
	if v, ok := decodeValue(s); ok {
		return v, true
	}
	if inner, _, ok := stripFence(s); ok {
		if v, ok := decodeValue(inner); ok {
			return v, true
		}
	}
	first := strings.IndexAny(s, "[{")
	last := strings.LastIndexAny(s, "]}")
	if first >= 0 && last > first {
		if v, ok := decodeValue(s[first : last+1]); ok {
			return v, true
		}
	}
	return nil, false
}

func decodeValue(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
