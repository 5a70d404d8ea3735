package types

import "time"

// ImageAnalysis describes one attached image, as reported by the model.
type ImageAnalysis struct {
	FileName string `json:"fileName"`
	Analysis string `json:"analysis"`
}

// StructuredReply is the parsed assistant answer.
type StructuredReply struct {
	Message       string          `json:"message"`
	Suggestions   []string        `json:"suggestions"`
	ImageAnalyses []ImageAnalysis `json:"imageAnalyses,omitempty"`
}

// Attachment is a file attached to a user turn.
type Attachment struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType,omitempty"`
	Path     string `json:"path,omitempty"` // on-disk location, if stored
	Data     []byte `json:"-"`              // inline bytes, if not stored
}

// HistoryTurn is a stored conversation turn.
type HistoryTurn struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// ExchangeRecord is one finished user/assistant exchange handed to a persistence sink.
type ExchangeRecord struct {
	ConversationID string
	UserTurn       HistoryTurn
	Reply          StructuredReply
	Model          string
	TraceID        string
}
