package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "chatreply.json",
			content: `{
  "models": {"primary": {"endpoint": "https://api.example.com/v1", "model": "gpt-4o"}},
  "orchestrator": {"timeoutSeconds": 15}
}`,
		},
		{
			name: "toml",
			file: "chatreply.toml",
			content: `[models.primary]
endpoint = "https://api.example.com/v1"
model = "gpt-4o"

[orchestrator]
timeoutSeconds = 15
`,
		},
		{
			name: "yaml",
			file: "chatreply.yaml",
			content: `models:
  primary:
    endpoint: https://api.example.com/v1
    model: gpt-4o
orchestrator:
  timeoutSeconds: 15
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Models.Primary.Model != "gpt-4o" {
				t.Errorf("primary model = %q, want gpt-4o", cfg.Models.Primary.Model)
			}
			if cfg.Orchestrator.TimeoutSeconds != 15 {
				t.Errorf("timeout = %d, want 15", cfg.Orchestrator.TimeoutSeconds)
			}
			// defaults fill what the file leaves unset
			if cfg.Orchestrator.MaxTokens != 2048 {
				t.Errorf("maxTokens = %d, want default 2048", cfg.Orchestrator.MaxTokens)
			}
			if cfg.HTTP.Listen == "" {
				t.Error("listen address should come from defaults")
			}
		})
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatreply.ini")
	if err := os.WriteFile(path, []byte("x=1"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Orchestrator.TimeoutSeconds != Defaults().Orchestrator.TimeoutSeconds {
		t.Errorf("timeout = %d", cfg.Orchestrator.TimeoutSeconds)
	}
	if cfg.Health.Backend != "memory" {
		t.Errorf("health backend = %q", cfg.Health.Backend)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CHATREPLY_PRIMARY_MODEL": "env-model",
		"CHATREPLY_API_KEY":       " sk-default ",
		"CHATREPLY_REDIS_ADDR":    "localhost:6379",
	}
	cfg := Defaults()
	cfg.Models.Primary.Model = "file-model"
	applyEnv(cfg, func(k string) string { return env[k] })

	if cfg.Models.Primary.Model != "env-model" {
		t.Errorf("primary model = %q", cfg.Models.Primary.Model)
	}
	if cfg.Models.DefaultAPIKey != "sk-default" {
		t.Errorf("default key = %q", cfg.Models.DefaultAPIKey)
	}
	if cfg.Health.Backend != "redis" {
		t.Errorf("backend = %q, want redis when CHATREPLY_REDIS_ADDR is set", cfg.Health.Backend)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chatreply.json")
	cfg := Defaults()
	cfg.Models.Primary = ModelEndpoint{Endpoint: "http://localhost:1234/v1", Model: "local"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Models.Primary.Model != "local" {
		t.Errorf("model = %q", got.Models.Primary.Model)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the config file, found %d entries", len(entries))
	}
}

func TestSaveRejectsNonJSON(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "c.toml"), Defaults())
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v", err)
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatreply.json")
	if err := os.WriteFile(path, []byte(`{"models":{"primary":{"model":"a"}}}`), 0600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	go func() {
		_ = Watch(ctx, path, func(c *Config) { got <- c.Models.Primary.Model })
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"models":{"primary":{"model":"b"}}}`), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-got:
		if m != "b" {
			t.Errorf("reloaded model = %q, want b", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}
