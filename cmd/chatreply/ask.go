package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/roelfdiedericks/chatreply/internal/gateway"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// AskCmd sends one message through the full reply pipeline.
type AskCmd struct {
	Message      []string `arg:"" optional:"" help:"Message text. Read from stdin when omitted and stdin is not a terminal."`
	Model        string   `short:"m" help:"Use this model on the primary endpoint instead of the configured chain."`
	Conversation string   `help:"Continue (and store) this conversation."`
	Attach       []string `short:"a" help:"Attach a file (repeatable)." type:"existingfile"`
	JSON         bool     `help:"Print the full reply as JSON."`
	Verbose      bool     `short:"v" help:"Show attempts and tool results on stderr."`
}

func (c *AskCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}

	text, err := c.messageText()
	if err != nil {
		return err
	}
	atts, err := c.attachments()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, appOptions{persist: c.Conversation != ""})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var emit func(gateway.ChatEvent)
	if c.Verbose {
		emit = printProgress
	}
	resp, err := a.gateway.HandleChatStream(ctx, gateway.ChatRequest{
		ConversationID: c.Conversation,
		Message:        text,
		Model:          c.Model,
		Attachments:    atts,
	}, emit)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Println(resp.Message)
	if len(resp.Suggestions) > 0 {
		fmt.Println()
		for _, s := range resp.Suggestions {
			fmt.Printf("  → %s\n", s)
		}
	}
	return nil
}

func (c *AskCmd) messageText() (string, error) {
	text := strings.TrimSpace(strings.Join(c.Message, " "))
	if text != "" || term.IsTerminal(int(os.Stdin.Fd())) {
		return text, nil
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *AskCmd) attachments() ([]types.Attachment, error) {
	var out []types.Attachment
	for _, path := range c.Attach {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Attachment{FileName: filepath.Base(path), Data: data})
	}
	return out, nil
}

func printProgress(e gateway.ChatEvent) {
	switch ev := e.(type) {
	case gateway.EventAttempt:
		fmt.Fprintf(os.Stderr, "  ↳ trying %s\n", ev.Model)
	case gateway.EventAttemptFailed:
		fmt.Fprintf(os.Stderr, "  ✗ %s failed (%s)\n", ev.Model, ev.Reason)
	case gateway.EventToolResult:
		status := "ok"
		if ev.Result.Failed {
			status = "failed"
		}
		fmt.Fprintf(os.Stderr, "  ⚙ %s: %s\n", ev.Result.ToolName, status)
	}
}
