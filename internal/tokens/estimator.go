// Package tokens estimates prompt sizes with tiktoken, falling back to a
// character heuristic when the encoding cannot be loaded.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// DefaultEncoding is the encoding used for every model. It over- or
// undercounts a little for non-OpenAI models; budgets absorb that.
const DefaultEncoding = "cl100k_base"

// MessageOverhead approximates role and framing tokens per message.
const MessageOverhead = 4

// ImageTokens is a flat charge for an image part.
const ImageTokens = 765

// Estimator counts tokens. The zero value uses the fallback heuristic.
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

var (
	globalEstimator     *Estimator
	globalEstimatorOnce sync.Once
)

// Get returns the shared estimator, loading the encoding on first use.
func Get() *Estimator {
	globalEstimatorOnce.Do(func() {
		var err error
		globalEstimator, err = New()
		if err != nil {
			L_warn("tokens: encoding unavailable, using character estimate", "error", err)
			globalEstimator = &Estimator{}
		}
	})
	return globalEstimator
}

// New loads DefaultEncoding. tiktoken may fetch the BPE ranks over the
// network on first use, so callers should tolerate an error.
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Count returns the token count for text.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return Fallback(text)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoding.Encode(text, nil, nil))
}

// Fallback is the chars/4 heuristic, rounded up.
func Fallback(text string) int {
	return (len(text) + 3) / 4
}

// Estimate counts with the shared estimator.
func Estimate(text string) int {
	return Get().Count(text)
}

// MessageTokens sizes one prompt message with count, including overhead and
// a flat charge per image.
func MessageTokens(m types.PromptMessage, count func(string) int) int {
	if count == nil {
		count = Fallback
	}
	n := MessageOverhead
	if !m.IsMultimodal() {
		return n + count(m.Text)
	}
	for _, p := range m.Parts {
		switch p.Type {
		case types.PartImage:
			n += ImageTokens
		default:
			n += count(p.Text)
		}
	}
	return n
}
