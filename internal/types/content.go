// Package types provides the shared request/response shapes used across packages.
package types

import "strings"

// Role of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType tags a ContentPart.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	URL  string   `json:"url,omitempty"` // http(s) or data: URL for images
}

// TextPart creates a text ContentPart.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart creates an image ContentPart.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImage, URL: url}
}

// PromptMessage is a single turn handed to a completion provider.
// A message with non-nil Parts is multimodal and Text is ignored.
type PromptMessage struct {
	Role  Role          `json:"role"`
	Text  string        `json:"text,omitempty"`
	Parts []ContentPart `json:"parts,omitempty"`
}

// TextMessage creates a text-only PromptMessage.
func TextMessage(role Role, text string) PromptMessage {
	return PromptMessage{Role: role, Text: text}
}

// IsMultimodal returns true if the message carries parts.
func (m PromptMessage) IsMultimodal() bool {
	return m.Parts != nil
}

// HasImages returns true if any part is an image.
func (m PromptMessage) HasImages() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

// PlainText returns the text of the message, joining text parts for multimodal turns.
func (m PromptMessage) PlainText() string {
	if !m.IsMultimodal() {
		return m.Text
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
