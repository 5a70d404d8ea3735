package reply

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/roelfdiedericks/chatreply/internal/lang"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
)

const (
	// SuggestionCount is the fixed number of follow-ups returned.
	SuggestionCount = 3
	// MaxSuggestionLen is the rune limit per suggestion.
	MaxSuggestionLen = 80
	maxKeywords      = 3
)

// SuggestionContext is what the finalizer may use to derive fallbacks.
type SuggestionContext struct {
	ContextText  string // conversation text to mine for keywords
	LanguageHint string // usually the user's latest message
}

var (
	templatesEN = []string{
		"Can you break down the key steps of %s?",
		"What are common mistakes to avoid with %s?",
		"Can you show a practical example of %s?",
	}
	templatesZH = []string{
		"能拆解一下%s的关键步骤吗？",
		"使用%s时有哪些常见误区？",
		"能举一个%s的实际例子吗？",
	}
	staticEN = []string{
		"Can you explain that in more detail?",
		"What are the most important points to remember?",
		"Can you give me a concrete example?",
		"What should I do next?",
		"Are there any alternatives worth considering?",
	}
	staticZH = []string{
		"能再详细解释一下吗？",
		"最需要记住的要点是什么？",
		"能给我一个具体的例子吗？",
		"下一步我应该做什么？",
		"还有其他值得考虑的方案吗？",
	}
)

var listMarker = regexp.MustCompile(`^(?:[-*•]|\d{1,2}[.)])\s+`)

// FinalizeSuggestions parses a raw model output that should encode a list of
// follow-up questions and always returns exactly SuggestionCount entries.
func FinalizeSuggestions(raw string, sc SuggestionContext) []string {
	v, ok := decodeLenient(raw)
	if !ok && strings.TrimSpace(raw) != "" {
		L_debug("reply: suggestions not decodable, using fallbacks", "length", len(raw))
	}
	return FinalizeValue(v, sc)
}

// FinalizeValue is FinalizeSuggestions for an already decoded value: an
// array, an object with a suggestions key, or a JSON-encoded string of either.
func FinalizeValue(v any, sc SuggestionContext) []string {
	f := newFinalizer()
	for _, s := range collect(v, 0) {
		f.add(s)
	}
	if f.full() {
		return f.items
	}

	chinese := lang.IsChinese(sc.LanguageHint)
	templates := templatesEN
	if chinese {
		templates = templatesZH
	}
	keywords := extractKeywords(plainText(sc.ContextText), maxKeywords)
	for round := 0; round < len(templates) && !f.full(); round++ {
		for i, kw := range keywords {
			if f.full() {
				break
			}
			f.add(fmt.Sprintf(templates[(i+round)%len(templates)], kw))
		}
	}

	static := staticEN
	if chinese {
		static = staticZH
	}
	for _, s := range static {
		if f.full() {
			break
		}
		f.add(s)
	}
	return f.items
}

// collect flattens the shapes models use for suggestion lists.
func collect(v any, depth int) []string {
	if depth > 3 {
		return nil
	}
	switch t := v.(type) {
	case []any:
		var out []string
		for _, item := range t {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				for _, k := range []string{"question", "text", "suggestion"} {
					if s, ok := it[k].(string); ok {
						out = append(out, s)
						break
					}
				}
			}
		}
		return out
	case map[string]any:
		for _, k := range []string{"suggestions", "questions", "followUps"} {
			if inner, ok := t[k]; ok {
				return collect(inner, depth+1)
			}
		}
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") || strings.HasPrefix(s, fence) {
			if inner, ok := decodeLenient(s); ok {
				return collect(inner, depth+1)
			}
		}
		if s != "" {
			return []string{s}
		}
	}
	return nil
}

type finalizer struct {
	items []string
	seen  map[string]bool
}

func newFinalizer() *finalizer {
	return &finalizer{seen: make(map[string]bool)}
}

func (f *finalizer) full() bool {
	return len(f.items) >= SuggestionCount
}

func (f *finalizer) add(s string) {
	if f.full() {
		return
	}
	s = normalizeSuggestion(s)
	if s == "" {
		return
	}
	key := strings.ToLower(s)
	if f.seen[key] {
		return
	}
	f.seen[key] = true
	f.items = append(f.items, s)
}

// normalizeSuggestion collapses whitespace, drops list markers and caps length.
func normalizeSuggestion(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = listMarker.ReplaceAllString(s, "")
	if utf8.RuneCountInString(s) > MaxSuggestionLen {
		s = strings.TrimSpace(string([]rune(s)[:MaxSuggestionLen]))
	}
	return s
}
