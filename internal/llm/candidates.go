package llm

import (
	"strings"

	"github.com/roelfdiedericks/chatreply/internal/config"
)

// ModelCandidate is one fully specified model the orchestrator may try.
type ModelCandidate struct {
	Endpoint   string `json:"endpoint"`
	ModelID    string `json:"modelId"`
	Credential string `json:"-"`
}

// String identifies the candidate in logs without exposing the credential.
func (c ModelCandidate) String() string {
	return c.ModelID + "@" + c.Endpoint
}

func (c ModelCandidate) key() string {
	return strings.TrimRight(c.Endpoint, "/") + "|" + c.ModelID
}

// ResolveCandidates builds the ordered retry sequence for one request.
//
// A non-blank override pins the model: it is the only candidate, served by the
// primary endpoint with the primary (or default) credential. Otherwise the
// primary comes first and the fallback second, unless it names the same
// endpoint and model. A fallback on the primary's endpoint (named or
// inherited) without its own key reuses the primary credential. An empty
// result means nothing usable is configured.
func ResolveCandidates(cfg config.ModelsConfig, override string) []ModelCandidate {
	primaryEndpoint := strings.TrimSpace(cfg.Primary.Endpoint)
	primaryCredential := firstNonEmpty(cfg.Primary.APIKey, cfg.DefaultAPIKey)

	if override = strings.TrimSpace(override); override != "" {
		if primaryEndpoint == "" {
			return nil
		}
		return []ModelCandidate{{
			Endpoint:   primaryEndpoint,
			ModelID:    override,
			Credential: primaryCredential,
		}}
	}

	var out []ModelCandidate
	seen := make(map[string]bool)
	add := func(c ModelCandidate) {
		if c.Endpoint == "" || c.ModelID == "" || seen[c.key()] {
			return
		}
		seen[c.key()] = true
		out = append(out, c)
	}

	add(ModelCandidate{
		Endpoint:   primaryEndpoint,
		ModelID:    strings.TrimSpace(cfg.Primary.Model),
		Credential: primaryCredential,
	})

	fallbackEndpoint := firstNonEmpty(cfg.Fallback.Endpoint, primaryEndpoint)
	fallbackCredential := firstNonEmpty(cfg.Fallback.APIKey, cfg.DefaultAPIKey)
	if sameEndpoint(fallbackEndpoint, primaryEndpoint) {
		fallbackCredential = firstNonEmpty(cfg.Fallback.APIKey, primaryCredential)
	}
	add(ModelCandidate{
		Endpoint:   fallbackEndpoint,
		ModelID:    strings.TrimSpace(cfg.Fallback.Model),
		Credential: fallbackCredential,
	})
	return out
}

func sameEndpoint(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
