package prompt

import (
	"strings"

	"github.com/roelfdiedericks/chatreply/internal/types"
)

// SuggestionMessages builds the prompt for a standalone follow-up generation
// call, used when an answer arrived as plain text without suggestions.
func SuggestionMessages(question, answer, languageHint string) []types.PromptMessage {
	var b strings.Builder
	b.WriteString("You write follow-up questions for a chat assistant.\n\n")
	b.WriteString(`Respond with a single JSON object of the shape {"suggestions": [string, string, string]} and nothing else.` + "\n")
	b.WriteString("Each suggestion is a short question under 80 characters that the user might naturally ask next.")
	if s := buildLanguageSection(languageHint); s != "" {
		b.WriteString("\n\n")
		b.WriteString(s)
	}

	var user strings.Builder
	if q := strings.TrimSpace(question); q != "" {
		user.WriteString("Question:\n")
		user.WriteString(q)
		user.WriteString("\n\n")
	}
	user.WriteString("Answer:\n")
	user.WriteString(strings.TrimSpace(answer))

	return []types.PromptMessage{
		types.TextMessage(types.RoleSystem, b.String()),
		types.TextMessage(types.RoleUser, user.String()),
	}
}
