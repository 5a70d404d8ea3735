package media

import (
	"fmt"
	"os"
	"strings"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// Processor turns attachments into prompt content parts.
type Processor struct {
	optimizer *Optimizer
	store     *Store // may be nil; then attachments must carry Data
}

// NewProcessor creates a Processor. store may be nil.
func NewProcessor(opt *Optimizer, store *Store) *Processor {
	if opt == nil {
		opt = NewOptimizer(0, 0)
	}
	return &Processor{optimizer: opt, store: store}
}

// Persist saves in-memory attachment bytes to the store and returns the
// attachments with Path set and a detected MimeType.
func (p *Processor) Persist(conversationID string, atts []types.Attachment) ([]types.Attachment, error) {
	out := make([]types.Attachment, len(atts))
	for i, a := range atts {
		if len(a.Data) > 0 {
			a.MimeType = DetectMIME(a.Data)
			if p.store != nil && a.Path == "" {
				path, err := p.store.Save(conversationID, a.Data, ExtensionFor(a.MimeType))
				if err != nil {
					return nil, fmt.Errorf("save %s: %w", a.FileName, err)
				}
				a.Path = path
			}
		}
		out[i] = a
	}
	return out, nil
}

// Message builds the prompt turn for text plus attachments. Image
// attachments become image parts; every attachment is named in the text.
// Without usable images the turn stays text-only.
func (p *Processor) Message(role types.Role, text string, atts []types.Attachment) types.PromptMessage {
	var images []types.ContentPart
	var names []string
	for _, a := range atts {
		names = append(names, a.FileName)
		if !IsImage(a.MimeType, a.FileName) {
			continue
		}
		img, err := p.load(a)
		if err != nil {
			L_warn("media: attachment skipped", "file", a.FileName, "error", err)
			continue
		}
		images = append(images, types.ImagePart(img.DataURL()))
	}

	if len(names) > 0 {
		text = fmt.Sprintf("%s\n\n[Attached files: %s]", text, strings.Join(names, ", "))
	}
	if len(images) == 0 {
		return types.TextMessage(role, text)
	}
	parts := make([]types.ContentPart, 0, len(images)+1)
	parts = append(parts, types.TextPart(text))
	parts = append(parts, images...)
	return types.PromptMessage{Role: role, Parts: parts}
}

func (p *Processor) load(a types.Attachment) (*ImageData, error) {
	data := a.Data
	if len(data) == 0 {
		if a.Path == "" {
			return nil, fmt.Errorf("no data or path")
		}
		if p.store != nil && !p.store.Contains(a.Path) {
			return nil, fmt.Errorf("path outside media store")
		}
		var err error
		data, err = os.ReadFile(a.Path)
		if err != nil {
			return nil, err
		}
	}
	return p.optimizer.Optimize(data)
}

