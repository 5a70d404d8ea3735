// Command chatreply serves structured chat replies over HTTP and answers
// one-off questions from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/chatreply/internal/config"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
)

var version = "0.3.0"

// Globals are flags shared by every command.
type Globals struct {
	Config   string `short:"c" help:"Config file (.json, .toml, .yaml). Defaults to ./chatreply.* or ~/.chatreply/chatreply.*." type:"path"`
	LogLevel string `help:"Override the configured log level (trace, debug, info, warn, error)." placeholder:"LEVEL"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Serve      ServeCmd      `cmd:"" help:"Run the chat API server."`
	Ask        AskCmd        `cmd:"" help:"Ask a single question and print the reply."`
	Probe      ProbeCmd      `cmd:"" help:"Check that the configured models are reachable."`
	InitConfig InitConfigCmd `cmd:"" name:"init-config" help:"Write a starter config file."`
	Version    VersionCmd    `cmd:"" help:"Print the version."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("chatreply"),
		kong.Description("Structured chat replies with model fallback and tool calls."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		L_error("command failed", "command", ctx.Command(), "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config path, loads it and initializes logging.
// The returned path is "" when running on defaults and environment only.
func (g *Globals) loadConfig() (*config.Config, string, error) {
	path := g.Config
	if path == "" {
		path = config.Find()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	Init(&cfg.Logging)
	if path == "" {
		L_debug("config: no file found, using defaults and environment")
	}
	return cfg, path, nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("chatreply %s\n", version)
	return nil
}
