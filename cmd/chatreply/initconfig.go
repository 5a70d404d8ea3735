package main

import (
	"fmt"
	"os"

	"github.com/roelfdiedericks/chatreply/internal/config"
)

// InitConfigCmd writes a starter JSON config.
type InitConfigCmd struct {
	Path  string `arg:"" optional:"" default:"chatreply.json" help:"Where to write the config."`
	Force bool   `help:"Overwrite an existing file."`
}

func (c *InitConfigCmd) Run() error {
	if _, err := os.Stat(c.Path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", c.Path)
	}
	cfg := config.Defaults()
	cfg.Models.Primary = config.ModelEndpoint{Endpoint: "https://api.openai.com/v1", Model: "gpt-4o"}
	cfg.Models.Fallback = config.ModelEndpoint{Model: "gpt-4o-mini"}
	if err := config.Save(c.Path, cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s; set models.defaultApiKey or CHATREPLY_API_KEY before running serve\n", c.Path)
	return nil
}
