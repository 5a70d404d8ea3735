package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/chatreply/internal/config"
)

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatreply.json")
	cmd := &InitConfigCmd{Path: path}
	if err := cmd.Run(); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Models.Primary.Model != "gpt-4o" || cfg.Models.Fallback.Model != "gpt-4o-mini" {
		t.Errorf("models = %+v", cfg.Models)
	}
	if cfg.HTTP.Listen == "" {
		t.Error("defaults missing from written config")
	}

	if err := cmd.Run(); err == nil {
		t.Error("existing file should not be overwritten without --force")
	}
	cmd.Force = true
	if err := cmd.Run(); err != nil {
		t.Errorf("forced overwrite: %v", err)
	}
}

func TestInitConfigRejectsNonJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatreply.toml")
	if err := (&InitConfigCmd{Path: path}).Run(); err == nil {
		t.Fatal("expected error for .toml output")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no file should be written")
	}
}

func TestCLIParse(t *testing.T) {
	tests := []struct {
		args    []string
		command string
	}{
		{[]string{"serve", "--listen", ":9000"}, "serve"},
		{[]string{"ask", "hello", "there"}, "ask <message>"},
		{[]string{"-c", "x.json", "probe"}, "probe"},
		{[]string{"version"}, "version"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			var cli CLI
			parser, err := kong.New(&cli, kong.Name("chatreply"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
			if err != nil {
				t.Fatal(err)
			}
			ctx, err := parser.Parse(tt.args)
			if err != nil {
				t.Fatalf("Parse(%v): %v", tt.args, err)
			}
			if ctx.Command() != tt.command {
				t.Errorf("command = %q, want %q", ctx.Command(), tt.command)
			}
		})
	}
}
