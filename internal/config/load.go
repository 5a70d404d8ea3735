package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roelfdiedericks/chatreply/internal/logging"
)

// ErrUnsupportedFormat is returned for config files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// candidateNames are searched, in order, by Find.
var candidateNames = []string{"chatreply.json", "chatreply.toml", "chatreply.yaml", "chatreply.yml"}

// Find returns the first config file found in the working directory or
// ~/.chatreply, or "" if there is none.
func Find() string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".chatreply"))
	}
	for _, dir := range dirs {
		for _, name := range candidateNames {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

// Load reads path (if non-empty), fills unset values from Defaults and then
// applies CHATREPLY_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		logging.L_debug("config: loaded", "path", path)
	}

	if err := mergo.Merge(cfg, Defaults()); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}
	applyEnv(cfg, os.Getenv)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// envOverrides maps environment variables onto config fields.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"CHATREPLY_API_KEY", func(c *Config) *string { return &c.Models.DefaultAPIKey }},
	{"CHATREPLY_PRIMARY_ENDPOINT", func(c *Config) *string { return &c.Models.Primary.Endpoint }},
	{"CHATREPLY_PRIMARY_MODEL", func(c *Config) *string { return &c.Models.Primary.Model }},
	{"CHATREPLY_PRIMARY_API_KEY", func(c *Config) *string { return &c.Models.Primary.APIKey }},
	{"CHATREPLY_FALLBACK_ENDPOINT", func(c *Config) *string { return &c.Models.Fallback.Endpoint }},
	{"CHATREPLY_FALLBACK_MODEL", func(c *Config) *string { return &c.Models.Fallback.Model }},
	{"CHATREPLY_FALLBACK_API_KEY", func(c *Config) *string { return &c.Models.Fallback.APIKey }},
	{"CHATREPLY_LISTEN", func(c *Config) *string { return &c.HTTP.Listen }},
	{"CHATREPLY_STORE_PATH", func(c *Config) *string { return &c.Store.Path }},
	{"CHATREPLY_REDIS_ADDR", func(c *Config) *string { return &c.Health.RedisAddr }},
	{"CHATREPLY_LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }},
}

func applyEnv(cfg *Config, getenv func(string) string) {
	for _, o := range envOverrides {
		if v := strings.TrimSpace(getenv(o.name)); v != "" {
			*o.field(cfg) = v
			logging.L_trace("config: env override", "var", o.name)
		}
	}
	if getenv("CHATREPLY_REDIS_ADDR") != "" {
		cfg.Health.Backend = "redis"
	}
}

// Save writes cfg as indented JSON, atomically.
func Save(path string, cfg *Config) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".json" {
		return fmt.Errorf("%w for writing: %s", ErrUnsupportedFormat, ext)
	}
	return AtomicWriteJSON(path, cfg, 0600)
}
