package reply

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func assertShape(t *testing.T, got []string) {
	t.Helper()
	if len(got) != SuggestionCount {
		t.Fatalf("len = %d, want %d: %q", len(got), SuggestionCount, got)
	}
	seen := make(map[string]bool)
	for _, s := range got {
		if strings.TrimSpace(s) == "" {
			t.Errorf("empty suggestion in %q", got)
		}
		if n := utf8.RuneCountInString(s); n > MaxSuggestionLen {
			t.Errorf("suggestion %q has %d runes", s, n)
		}
		key := strings.ToLower(s)
		if seen[key] {
			t.Errorf("duplicate suggestion %q", s)
		}
		seen[key] = true
	}
}

func TestFinalizeSuggestions(t *testing.T) {
	long := strings.Repeat("x", 200)
	tests := []struct {
		name string
		raw  string
		sc   SuggestionContext
		want []string
	}{
		{
			name: "fenced array",
			raw:  "```json\n[\"Q1\",\"Q2\",\"Q3\"]\n```",
			want: []string{"Q1", "Q2", "Q3"},
		},
		{
			name: "fenced object",
			raw:  "```json\n{\"suggestions\":[\"Q1\",\"Q2\",\"Q3\"]}\n```",
			want: []string{"Q1", "Q2", "Q3"},
		},
		{
			name: "noise around array",
			raw:  `Here are some: ["A?", "B?", "C?"] enjoy`,
			want: []string{"A?", "B?", "C?"},
		},
		{
			name: "extra entries truncated",
			raw:  `["1","2","3","4","5"]`,
			want: []string{"1", "2", "3"},
		},
		{
			name: "objects with question key",
			raw:  `{"questions":[{"question":"A?"},{"text":"B?"},{"suggestion":"C?"}]}`,
			want: []string{"A?", "B?", "C?"},
		},
		{
			name: "list markers and whitespace",
			raw:  `["1. First  one", "- Second\n one", "* Third"]`,
			want: []string{"First one", "Second one", "Third"},
		},
		{
			name: "case-insensitive dedupe pads with static",
			raw:  `["Same", "same", "SAME"]`,
			want: []string{"Same", staticEN[0], staticEN[1]},
		},
		{
			name: "garbage falls back to static english",
			raw:  "no json here",
			want: staticEN[:3],
		},
		{
			name: "empty falls back to static english",
			raw:  "",
			want: staticEN[:3],
		},
		{
			name: "chinese hint uses chinese fallbacks",
			raw:  "",
			sc:   SuggestionContext{LanguageHint: "这是什么？"},
			want: staticZH[:3],
		},
		{
			name: "japanese hint keeps english fallbacks",
			raw:  "",
			sc:   SuggestionContext{LanguageHint: "こんにちは、天気は？"},
			want: staticEN[:3],
		},
		{
			name: "korean hint keeps english fallbacks",
			raw:  "",
			sc:   SuggestionContext{LanguageHint: "안녕하세요, 날씨 어때요?"},
			want: staticEN[:3],
		},
		{
			name: "keywords fill before static",
			raw:  "[]",
			sc:   SuggestionContext{ContextText: "Kubernetes operators scale deployments"},
			want: []string{
				"Can you break down the key steps of Kubernetes?",
				"What are common mistakes to avoid with operators?",
				"Can you show a practical example of scale?",
			},
		},
		{
			name: "long entries capped",
			raw:  `["` + long + `"]`,
			want: []string{long[:MaxSuggestionLen], staticEN[0], staticEN[1]},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FinalizeSuggestions(tt.raw, tt.sc)
			assertShape(t, got)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFinalizeValueShapes(t *testing.T) {
	inputs := []any{
		nil,
		42,
		"",
		"   ",
		[]any{},
		[]any{nil, 3, map[string]any{}},
		[]any{"only"},
		map[string]any{"followUps": []any{"a", "a", "b"}},
		map[string]any{"other": "x"},
		`"[\"nested\"]"`,
		[]any{strings.Repeat("长", 120), strings.Repeat("长", 120)},
	}
	hints := []SuggestionContext{
		{},
		{ContextText: "Use `go test` with the race detector", LanguageHint: "How?"},
		{ContextText: "数据库连接池 配置", LanguageHint: "怎么配置？"},
	}
	for _, in := range inputs {
		for _, sc := range hints {
			assertShape(t, FinalizeValue(in, sc))
		}
	}
}

func TestFinalizeValueDeterministic(t *testing.T) {
	sc := SuggestionContext{ContextText: "Redis streams and consumer groups", LanguageHint: "hi"}
	a := FinalizeValue(nil, sc)
	b := FinalizeValue(nil, sc)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("not deterministic: %q vs %q", a, b)
	}
}

func TestNormalizeSuggestion(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  plain  ", "plain"},
		{"2) numbered", "numbered"},
		{"• bullet", "bullet"},
		{"multi\n\tline\r\ntext", "multi line text"},
		{"-", "-"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeSuggestion(tt.in); got != tt.want {
			t.Errorf("normalizeSuggestion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
