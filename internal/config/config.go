// Package config loads chatreply configuration from JSON, TOML, or YAML files.
package config

import (
	"time"

	"github.com/roelfdiedericks/chatreply/internal/logging"
)

// Config is the full service configuration.
type Config struct {
	Models       ModelsConfig       `json:"models" toml:"models" yaml:"models"`
	Orchestrator OrchestratorConfig `json:"orchestrator" toml:"orchestrator" yaml:"orchestrator"`
	Tools        ToolsConfig        `json:"tools" toml:"tools" yaml:"tools"`
	HTTP         HTTPConfig         `json:"http" toml:"http" yaml:"http"`
	Store        StoreConfig        `json:"store" toml:"store" yaml:"store"`
	Media        MediaConfig        `json:"media" toml:"media" yaml:"media"`
	Health       HealthConfig       `json:"health" toml:"health" yaml:"health"`
	Logging      logging.Config     `json:"logging" toml:"logging" yaml:"logging"`
}

// ModelEndpoint is one configured model on an OpenAI-compatible or Anthropic endpoint.
type ModelEndpoint struct {
	Endpoint string `json:"endpoint" toml:"endpoint" yaml:"endpoint"` // base URL, e.g. https://api.openai.com/v1
	Model    string `json:"model" toml:"model" yaml:"model"`
	APIKey   string `json:"apiKey,omitempty" toml:"apiKey" yaml:"apiKey"`
}

// ModelsConfig holds the primary and fallback models.
type ModelsConfig struct {
	Primary       ModelEndpoint `json:"primary" toml:"primary" yaml:"primary"`
	Fallback      ModelEndpoint `json:"fallback" toml:"fallback" yaml:"fallback"`
	DefaultAPIKey string        `json:"defaultApiKey,omitempty" toml:"defaultApiKey" yaml:"defaultApiKey"`
}

// OrchestratorConfig tunes a single reply generation.
type OrchestratorConfig struct {
	TimeoutSeconds           int    `json:"timeoutSeconds" toml:"timeoutSeconds" yaml:"timeoutSeconds"`
	SuggestionTimeoutSeconds int    `json:"suggestionTimeoutSeconds" toml:"suggestionTimeoutSeconds" yaml:"suggestionTimeoutSeconds"`
	MaxTokens                int    `json:"maxTokens" toml:"maxTokens" yaml:"maxTokens"`
	HistoryTokenBudget       int    `json:"historyTokenBudget" toml:"historyTokenBudget" yaml:"historyTokenBudget"`
	HistoryTurns             int    `json:"historyTurns" toml:"historyTurns" yaml:"historyTurns"`
	SystemPrompt             string `json:"systemPrompt,omitempty" toml:"systemPrompt" yaml:"systemPrompt"`
}

// Timeout returns the per-call provider timeout.
func (o OrchestratorConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// SuggestionTimeout returns the timeout for the follow-up generation call.
func (o OrchestratorConfig) SuggestionTimeout() time.Duration {
	return time.Duration(o.SuggestionTimeoutSeconds) * time.Second
}

// ToolsConfig configures tool clients.
type ToolsConfig struct {
	Disabled       bool              `json:"disabled,omitempty" toml:"disabled" yaml:"disabled"`
	DisableBuiltin bool              `json:"disableBuiltin,omitempty" toml:"disableBuiltin" yaml:"disableBuiltin"`
	MCPServers     []MCPServerConfig `json:"mcpServers,omitempty" toml:"mcpServers" yaml:"mcpServers"`
}

// MCPServerConfig describes one MCP server. Either Command or URL is set.
type MCPServerConfig struct {
	ID        string   `json:"id" toml:"id" yaml:"id"`
	Command   string   `json:"command,omitempty" toml:"command" yaml:"command"`
	Args      []string `json:"args,omitempty" toml:"args" yaml:"args"`
	URL       string   `json:"url,omitempty" toml:"url" yaml:"url"`
	Transport string   `json:"transport,omitempty" toml:"transport" yaml:"transport"` // "sse" or "http" for URL servers
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Listen             string   `json:"listen" toml:"listen" yaml:"listen"`
	RateLimitPerMinute int      `json:"rateLimitPerMinute" toml:"rateLimitPerMinute" yaml:"rateLimitPerMinute"`
	AllowedOrigins     []string `json:"allowedOrigins,omitempty" toml:"allowedOrigins" yaml:"allowedOrigins"`
	APIKeys            []string `json:"apiKeys,omitempty" toml:"apiKeys" yaml:"apiKeys"` // empty disables authentication
}

// StoreConfig configures the conversation store.
type StoreConfig struct {
	Path string `json:"path" toml:"path" yaml:"path"`
}

// MediaConfig configures attachment handling.
type MediaConfig struct {
	Dir          string `json:"dir" toml:"dir" yaml:"dir"` // uploaded attachments are kept here
	MaxDimension int    `json:"maxDimension" toml:"maxDimension" yaml:"maxDimension"`
	MaxBytes     int    `json:"maxBytes" toml:"maxBytes" yaml:"maxBytes"`
}

// HealthConfig configures the model health cache and probes.
type HealthConfig struct {
	Backend             string `json:"backend" toml:"backend" yaml:"backend"` // "memory" or "redis"
	TTLSeconds          int    `json:"ttlSeconds" toml:"ttlSeconds" yaml:"ttlSeconds"`
	RedisAddr           string `json:"redisAddr,omitempty" toml:"redisAddr" yaml:"redisAddr"`
	RedisPassword       string `json:"redisPassword,omitempty" toml:"redisPassword" yaml:"redisPassword"`
	RedisDB             int    `json:"redisDb,omitempty" toml:"redisDb" yaml:"redisDb"`
	ProbeSchedule       string `json:"probeSchedule,omitempty" toml:"probeSchedule" yaml:"probeSchedule"` // cron spec, empty disables
	ProbeTimeoutSeconds int    `json:"probeTimeoutSeconds" toml:"probeTimeoutSeconds" yaml:"probeTimeoutSeconds"`
}

// TTL returns the cache entry lifetime.
func (h HealthConfig) TTL() time.Duration {
	return time.Duration(h.TTLSeconds) * time.Second
}

// Defaults returns the configuration used for anything a file leaves unset.
func Defaults() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			TimeoutSeconds:           60,
			SuggestionTimeoutSeconds: 20,
			MaxTokens:                2048,
			HistoryTokenBudget:       12000,
			HistoryTurns:             40,
		},
		HTTP: HTTPConfig{
			Listen:             "127.0.0.1:3390",
			RateLimitPerMinute: 30,
		},
		Store: StoreConfig{
			Path: "chatreply.db",
		},
		Media: MediaConfig{
			Dir:          "media",
			MaxDimension: 1568,
			MaxBytes:     5 * 1024 * 1024,
		},
		Health: HealthConfig{
			Backend:             "memory",
			TTLSeconds:          60,
			ProbeTimeoutSeconds: 10,
		},
		Logging: *logging.DefaultConfig(),
	}
}
