package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roelfdiedericks/chatreply/internal/config"
	"github.com/roelfdiedericks/chatreply/internal/tools"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

var _ tools.ToolClient = (*Client)(nil)

func startServer(t *testing.T) TransportFunc {
	t.Helper()
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "test-server", Version: "test"}, nil)
	server.AddTool(&mcpsdk.Tool{
		Name:        "echo",
		Description: "Echo input",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var payload map[string]string
		if err := json.Unmarshal(req.Params.Arguments, &payload); err != nil {
			return nil, err
		}
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "echo:" + payload["text"]}}}, nil
	})
	server.AddTool(&mcpsdk.Tool{
		Name:        "snapshot",
		InputSchema: map[string]any{"type": "object"},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.ImageContent{Data: []byte("png"), MIMEType: "image/png"}},
			IsError: false,
		}, nil
	})

	serverT, clientT := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		session, err := server.Connect(ctx, serverT, nil)
		ready <- err
		if err != nil {
			return
		}
		<-ctx.Done()
		_ = session.Close()
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		if err := <-ready; err != nil {
			t.Errorf("server connect: %v", err)
		}
	})
	return func(context.Context) (mcpsdk.Transport, error) { return clientT, nil }
}

func TestClientListAndCall(t *testing.T) {
	c := newClient("test")
	c.AddServer("mem", startServer(t))
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	list, err := c.ListTools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	byName := map[string]types.ToolDescriptor{}
	for _, d := range list {
		byName[d.Name] = d
	}
	echo := byName["echo"]
	if echo.ServerID != "mem" || echo.Description != "Echo input" || echo.InputSchema["type"] != "object" {
		t.Errorf("echo = %+v", echo)
	}

	resp, err := c.CallTool(ctx, types.ToolCall{ServerID: "mem", Name: "echo", Arguments: map[string]any{"text": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.GetText() != "echo:hi" {
		t.Errorf("echo = %+v", resp)
	}

	resp, err = c.CallTool(ctx, types.ToolCall{ServerID: "mem", Name: "snapshot", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != "image" || resp.Content[0].MimeType != "image/png" {
		t.Errorf("snapshot = %+v", resp)
	}
	if tools.DisplayText(resp) != tools.ImagePlaceholder {
		t.Errorf("display = %q", tools.DisplayText(resp))
	}

	if _, err := c.CallTool(ctx, types.ToolCall{ServerID: "other", Name: "echo"}); err == nil {
		t.Error("unknown server accepted")
	}
}

func TestListSkipsBrokenServer(t *testing.T) {
	c := newClient("test")
	c.AddServer("mem", startServer(t))
	c.AddServer("down", func(context.Context) (mcpsdk.Transport, error) { return nil, errors.New("boom") })
	t.Cleanup(func() { _ = c.Close() })

	list, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("list = %+v", list)
	}

	only := newClient("test")
	only.AddServer("down", func(context.Context) (mcpsdk.Transport, error) { return nil, errors.New("boom") })
	if _, err := only.ListTools(context.Background()); err == nil {
		t.Error("all servers down should error")
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfgs    []config.MCPServerConfig
		wantErr bool
	}{
		{"empty", nil, false},
		{"command", []config.MCPServerConfig{{ID: "fs", Command: "mcp-fs", Args: []string{"/tmp"}}}, false},
		{"http", []config.MCPServerConfig{{ID: "web", URL: "https://example.com/mcp"}}, false},
		{"sse", []config.MCPServerConfig{{ID: "web", URL: "http://localhost:8080/sse", Transport: "sse"}}, false},
		{"missing id", []config.MCPServerConfig{{Command: "x"}}, true},
		{"duplicate id", []config.MCPServerConfig{{ID: "a", Command: "x"}, {ID: "a", Command: "y"}}, true},
		{"both", []config.MCPServerConfig{{ID: "a", Command: "x", URL: "http://h"}}, true},
		{"neither", []config.MCPServerConfig{{ID: "a"}}, true},
		{"bad scheme", []config.MCPServerConfig{{ID: "a", URL: "ftp://h"}}, true},
		{"bad transport", []config.MCPServerConfig{{ID: "a", URL: "http://h", Transport: "carrier-pigeon"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfgs, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if err == nil && c.Len() != len(tt.cfgs) {
				t.Errorf("Len = %d", c.Len())
			}
		})
	}
}
