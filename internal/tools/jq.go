package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
)

const (
	jqMaxResults = 200
	jqMaxOutput  = 16 * 1024
)

// JQTool lets the model filter a JSON document it already has in context,
// typically the output of another tool.
type JQTool struct{}

// NewJQTool creates a JQTool.
func NewJQTool() *JQTool {
	return &JQTool{}
}

func (t *JQTool) Name() string {
	return "jq"
}

func (t *JQTool) Description() string {
	return "Filter or reshape a JSON document with a jq expression. Strings are returned bare, everything else as compact JSON, one result per line."
}

func (t *JQTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "jq expression, e.g. '.items[] | .name'",
			},
			"input": map[string]any{
				"description": "The JSON document, either as a value or as a JSON-encoded string.",
			},
		},
		"required": []string{"query", "input"},
	}
}

type jqParams struct {
	Query string          `json:"query"`
	Input json.RawMessage `json:"input"`
}

func (t *JQTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params jqParams
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return "", errors.New("query is required")
	}
	doc, err := decodeJQInput(params.Input)
	if err != nil {
		return "", err
	}

	query, err := gojq.Parse(params.Query)
	if err != nil {
		return "", fmt.Errorf("invalid jq expression: %w", err)
	}

	var out strings.Builder
	n := 0
	iter := query.RunWithContext(ctx, doc)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return "", fmt.Errorf("jq: %w", err)
		}
		if n == jqMaxResults {
			fmt.Fprintf(&out, "... (more than %d results)", jqMaxResults)
			break
		}
		if err := writeJQResult(&out, v); err != nil {
			return "", err
		}
		n++
		if out.Len() > jqMaxOutput {
			break
		}
	}

	result := strings.TrimSuffix(out.String(), "\n")
	if len(result) > jqMaxOutput {
		result = result[:jqMaxOutput] + "\n... (truncated)"
	}
	L_debug("tools: jq evaluated", "results", n, "bytes", len(result))
	return result, nil
}

// decodeJQInput accepts the document inline or as a JSON string holding it;
// models send both.
func decodeJQInput(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.New("input is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return nil, errors.New("input is required")
		}
		raw = json.RawMessage(s)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("input is not valid JSON: %w", err)
	}
	return doc, nil
}

func writeJQResult(out *strings.Builder, v any) error {
	if s, ok := v.(string); ok {
		out.WriteString(s)
		out.WriteByte('\n')
		return nil
	}
	b, err := gojq.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	out.Write(b)
	out.WriteByte('\n')
	return nil
}
