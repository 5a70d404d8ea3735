package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TimeTool reports the current time in a given IANA zone.
type TimeTool struct {
	now func() time.Time
}

// NewTimeTool creates a TimeTool using the wall clock.
func NewTimeTool() *TimeTool {
	return &TimeTool{now: time.Now}
}

func (t *TimeTool) Name() string {
	return "current_time"
}

func (t *TimeTool) Description() string {
	return "Get the current date and time, optionally in a specific IANA time zone."
}

func (t *TimeTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA zone name such as 'Europe/London'. Default: UTC",
			},
		},
	}
}

func (t *TimeTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Timezone string `json:"timezone"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &params); err != nil {
			return "", fmt.Errorf("invalid input: %w", err)
		}
	}

	loc := time.UTC
	if params.Timezone != "" {
		l, err := time.LoadLocation(params.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", params.Timezone)
		}
		loc = l
	}
	now := t.now().In(loc)
	return fmt.Sprintf("%s (%s, %s)", now.Format(time.RFC3339), now.Weekday(), loc), nil
}
